// Package counterdumper contains a counter that periodically reports decode problems.
package counterdumper

import (
	"sync"
	"time"
)

const (
	defaultPeriod = 1 * time.Second
)

// Report is the content of a periodic report.
type Report struct {
	Errors       uint64
	LastError    error
	DroppedBytes uint64
}

// CounterDumper counts decode errors and dropped input,
// and periodically invokes a callback if any of them is not zero.
type CounterDumper struct {
	Period   time.Duration
	OnReport func(r Report)

	mutex sync.Mutex
	cur   Report

	terminate chan struct{}
	done      chan struct{}
}

// Start starts the counter.
func (c *CounterDumper) Start() {
	if c.Period == 0 {
		c.Period = defaultPeriod
	}

	c.terminate = make(chan struct{})
	c.done = make(chan struct{})

	go c.run()
}

// Stop stops the counter.
func (c *CounterDumper) Stop() {
	close(c.terminate)
	<-c.done
}

// AddError adds an error to the counter.
func (c *CounterDumper) AddError(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cur.Errors++
	c.cur.LastError = err
}

// AddDropped adds dropped input bytes to the counter.
func (c *CounterDumper) AddDropped(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cur.DroppedBytes += uint64(n)
}

func (c *CounterDumper) swap() Report {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	r := c.cur
	c.cur = Report{}
	return r
}

func (c *CounterDumper) run() {
	defer close(c.done)

	t := time.NewTicker(c.Period)
	defer t.Stop()

	for {
		select {
		case <-c.terminate:
			return

		case <-t.C:
			r := c.swap()
			if r.Errors != 0 || r.DroppedBytes != 0 {
				c.OnReport(r)
			}
		}
	}
}
