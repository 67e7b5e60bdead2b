// Package core contains the main struct of the software.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/alecthomas/kong"

	"github.com/bluenviron/hwdecode/internal/conf"
	"github.com/bluenviron/hwdecode/internal/confwatcher"
	"github.com/bluenviron/hwdecode/internal/counterdumper"
	"github.com/bluenviron/hwdecode/internal/defs"
	"github.com/bluenviron/hwdecode/internal/logger"
	"github.com/bluenviron/hwdecode/internal/pipeline"
	"github.com/bluenviron/hwdecode/internal/session"
	"github.com/bluenviron/hwdecode/internal/source"
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"hwdecode.yml",
	"/usr/local/etc/hwdecode.yml",
	"/usr/etc/hwdecode.yml",
	"/etc/hwdecode/hwdecode.yml",
}

const (
	maxFreeAttempts = 100
	drainRounds     = 10
	drainInterval   = 10 * time.Millisecond
)

type cliArgs struct {
	Version bool   `help:"print version"`
	Conf    string `help:"path to a config file. The default is hwdecode.yml."`
	Profile string `help:"decoder profile. When not set, it is guessed from the input."`
	Width   int    `help:"picture width. When not set, it is read from the stream."`
	Height  int    `help:"picture height. When not set, it is read from the stream."`
	Output  string `help:"path to a file where decoded pictures are written as raw YUV."`
	Input   string `arg:"" optional:"" help:"elementary stream, MPEG-TS file (.ts) or - for the standard input."`
}

// Core is an instance of hwdecode.
type Core struct {
	ctx         context.Context
	ctxCancel   func()
	args        cliArgs
	confPath    string
	conf        *conf.Conf
	logger      *logger.Logger
	confWatcher *confwatcher.ConfWatcher
	counters    *counterdumper.CounterDumper
	src         source.Source
	output      *os.File
	writer      *yuvWriter
	findDevice  func(keywords ...string) (v4l2.Device, string, error)

	// out
	err  error
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	return newCore(args, nil)
}

func newCore(args []string, findDevice func(keywords ...string) (v4l2.Device, string, error)) (*Core, bool) {
	p := &Core{
		findDevice: findDevice,
		done:       make(chan struct{}),
	}

	parser, err := kong.New(&p.args,
		kong.Name("hwdecode"),
		kong.Description("hwdecode "+version),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if p.args.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if p.args.Input == "" {
		fmt.Println("ERR: input is missing")
		return nil, false
	}

	p.conf, p.confPath, err = conf.Load(p.args.Conf, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	p.ctx, p.ctxCancel = context.WithCancel(context.Background())

	err = p.createResources()
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources()
		p.ctxCancel()
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
// It returns the error that stopped decoding, if any.
func (p *Core) Wait() error {
	<-p.done
	return p.err
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...any) {
	p.logger.Log(level, format, args...)
}

func (p *Core) createResources() error {
	p.logger = &logger.Logger{
		Level:        logger.Level(p.conf.LogLevel),
		Destinations: p.conf.LogDestinations,
		Structured:   p.conf.LogStructured,
		File:         p.conf.LogFile,
	}
	err := p.logger.Initialize()
	if err != nil {
		p.logger = nil
		return err
	}

	p.Log(logger.Info, "hwdecode %s", version)

	if p.confPath != "" {
		p.Log(logger.Debug, "configuration loaded from %s", p.confPath)

		p.confWatcher = &confwatcher.ConfWatcher{
			FilePath: p.confPath,
			Parent:   p,
		}
		err = p.confWatcher.Initialize()
		if err != nil {
			p.confWatcher = nil
			return err
		}
	} else {
		p.Log(logger.Warn, "configuration file not found, using the default configuration")
	}

	p.counters = &counterdumper.CounterDumper{
		OnReport: func(r counterdumper.Report) {
			if r.Errors != 0 {
				p.Log(logger.Warn, "%d decode %s, last: %v",
					r.Errors, plural(r.Errors, "error", "errors"), r.LastError)
			}
			if r.DroppedBytes != 0 {
				p.Log(logger.Warn, "%s of input dropped, the decoder is not keeping up",
					bytefmt.ByteSize(r.DroppedBytes))
			}
		},
	}
	p.counters.Start()

	p.src, err = source.Open(p.args.Input, p)
	if err != nil {
		return err
	}

	if p.args.Output != "" {
		p.output, err = os.Create(p.args.Output)
		if err != nil {
			return err
		}
		p.writer = newYUVWriter(p.output)
	} else {
		p.writer = newYUVWriter(io.Discard)
	}

	return nil
}

func (p *Core) closeResources() {
	if p.writer != nil {
		err := p.writer.flush()
		if err != nil {
			p.Log(logger.Error, "unable to write output: %v", err)
		}
	}

	if p.output != nil {
		p.output.Close()
	}

	if p.src != nil {
		p.src.Close() //nolint:errcheck
	}

	if p.counters != nil {
		p.counters.Stop()
	}

	if p.confWatcher != nil {
		p.confWatcher.Close()
	}

	if p.logger != nil {
		p.logger.Close()
	}
}

func plural(n uint64, singular string, multiple string) string {
	if n == 1 {
		return singular
	}
	return multiple
}

func (p *Core) run() {
	defer close(p.done)

	decodeDone := make(chan error, 1)
	go func() {
		decodeDone <- p.runDecode(p.src)
	}()

	var reloaded <-chan *conf.Conf
	if p.confWatcher != nil {
		reloaded = p.confWatcher.Reloaded()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

outer:
	for {
		select {
		case newConf, ok := <-reloaded:
			if !ok {
				reloaded = nil
				continue
			}
			p.reloadConf(newConf)

		case err := <-decodeDone:
			p.err = err
			break outer

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			p.ctxCancel()

		case <-p.ctx.Done():
			// unblock reads
			p.src.Close() //nolint:errcheck
			p.src = nil
			p.err = <-decodeDone
			break outer
		}
	}

	p.ctxCancel()

	if p.err != nil {
		p.Log(logger.Error, "%s", p.err)
	}

	p.closeResources()
}

func (p *Core) reloadConf(newConf *conf.Conf) {
	p.logger.SetLevel(logger.Level(newConf.LogLevel))

	cur := *p.conf
	cur.LogLevel = newConf.LogLevel

	if !reflect.DeepEqual(&cur, newConf) {
		p.Log(logger.Warn, "only 'logLevel' can be changed while running, other changes are ignored")
	}
}

func (p *Core) runDecode(src source.Source) error {
	var sess *session.Session

	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	for {
		buf, err := src.Read()
		if err != nil {
			if p.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		if sess == nil {
			sess, err = p.openSession(src, buf)
			if err != nil {
				return err
			}
		}

		err = p.decode(sess, buf)
		if err != nil {
			return err
		}

		if p.ctx.Err() != nil {
			return nil
		}
	}

	if sess == nil {
		return fmt.Errorf("input is empty")
	}

	sess.Flush()

	return p.drain(sess)
}

func (p *Core) openSession(src source.Source, buf []byte) (*session.Session, error) {
	var profile defs.Profile

	if p.args.Profile != "" {
		err := profile.UnmarshalText([]byte(p.args.Profile))
		if err != nil {
			return nil, err
		}
	} else {
		var ok bool
		profile, ok = src.Profile()
		if !ok {
			return nil, fmt.Errorf("unable to guess the profile of the input, use --profile")
		}
	}

	width, height := p.args.Width, p.args.Height

	if width == 0 || height == 0 {
		var ok bool
		width, height, ok = source.Probe(profile, buf)
		if !ok {
			return nil, fmt.Errorf("unable to find the picture size in the input, use --width and --height")
		}
	}

	sess := &session.Session{
		Conf:       p.conf,
		Profile:    profile,
		Width:      width,
		Height:     height,
		Parent:     p,
		FindDevice: p.findDevice,
	}
	err := sess.Initialize()
	if err != nil {
		return nil, err
	}

	return sess, nil
}

// decode passes a chunk to the session, waiting for the stream buffer to have room for it.
func (p *Core) decode(sess *session.Session, buf []byte) error {
	for attempts := 0; sess.Free() < len(buf); attempts++ {
		if attempts == maxFreeAttempts {
			p.counters.AddDropped(len(buf))
			return nil
		}

		err := p.step(sess, nil)
		if err != nil {
			return err
		}
	}

	return p.step(sess, [][]byte{buf})
}

func (p *Core) step(sess *session.Session, buffers [][]byte) error {
	err := sess.Decode(buffers, nil)
	if err != nil {
		if !errors.Is(err, pipeline.ErrDecode) {
			return err
		}
		p.counters.AddError(err)
	}

	for {
		ok, err := sess.GetPicture(p.writer)
		if err != nil {
			if !errors.Is(err, pipeline.ErrDecode) {
				return err
			}
			p.counters.AddError(err)
			return nil
		}

		if !ok {
			return nil
		}
	}
}

// drain decodes buffered data until no picture is produced for a while.
func (p *Core) drain(sess *session.Session) error {
	for idle := 0; idle < drainRounds; {
		before := p.writer.count

		err := p.step(sess, nil)
		if err != nil {
			return err
		}

		if p.ctx.Err() != nil {
			return nil
		}

		if p.writer.count == before {
			idle++
			time.Sleep(drainInterval)
		} else {
			idle = 0
		}
	}

	p.Log(logger.Info, "%d pictures decoded", p.writer.count)

	return nil
}
