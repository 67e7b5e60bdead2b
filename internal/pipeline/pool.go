package pipeline

import (
	"errors"
	"fmt"

	"github.com/bluenviron/hwdecode/internal/v4l2"
)

// SlotState is the ownership state of a slot.
type SlotState int

// slot states.
const (
	// the slot is owned by the pipeline and can be filled.
	SlotFree SlotState = iota

	// the slot is owned by the device.
	SlotQueued

	// the slot has been dequeued and holds data that has not been consumed yet.
	SlotDone
)

// String implements fmt.Stringer.
func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotQueued:
		return "queued"
	case SlotDone:
		return "done"
	}
	return fmt.Sprintf("unknown (%d)", int(s))
}

// SlotPlane is a plane of a slot.
type SlotPlane struct {
	Data      []byte
	Length    uint32
	Offset    uint32
	BytesUsed uint32
}

// Slot is a buffer shared with a device, addressed by index.
type Slot struct {
	Index  uint32
	State  SlotState
	Planes []SlotPlane
}

// PoolStats are the statistics of a pool.
type PoolStats struct {
	Size   int
	Free   int
	Queued int
	Done   int
}

// pool is the set of slots of a device queue.
type pool struct {
	dev    v4l2.Device
	typ    v4l2.BufType
	memory v4l2.Memory

	slots     []*Slot
	streaming bool
}

func (p *pool) request(count int) error {
	n, err := p.dev.RequestBuffers(p.typ, p.memory, uint32(count))
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("device allocated no buffers on %v queue", p.typ)
	}

	p.slots = make([]*Slot, n)
	for i := range p.slots {
		p.slots[i] = &Slot{Index: uint32(i)}
	}

	return nil
}

func (p *pool) mapAll() error {
	for _, s := range p.slots {
		b := v4l2.Buffer{
			Index:     s.Index,
			Type:      p.typ,
			Memory:    p.memory,
			NumPlanes: v4l2.MaxPlanes,
		}

		err := p.dev.QueryBuffer(&b)
		if err != nil {
			return err
		}

		s.Planes = make([]SlotPlane, b.NumPlanes)

		for j := range s.Planes {
			data, err := p.dev.Map(b.Planes[j].MemOffset, b.Planes[j].Length)
			if err != nil {
				return err
			}

			s.Planes[j] = SlotPlane{
				Data:   data,
				Length: b.Planes[j].Length,
				Offset: b.Planes[j].MemOffset,
			}
		}
	}

	return nil
}

// attach makes a user-pointer slot point to the planes of another slot.
func (p *pool) attach(index uint32, src *Slot) error {
	if int(index) >= len(p.slots) {
		return fmt.Errorf("slot %d does not exist on %v queue", index, p.typ)
	}

	s := p.slots[index]
	s.Planes = make([]SlotPlane, len(src.Planes))

	for j, sp := range src.Planes {
		s.Planes[j] = SlotPlane{
			Data:      sp.Data,
			Length:    sp.Length,
			BytesUsed: sp.BytesUsed,
		}
	}

	return nil
}

func (p *pool) firstFree() *Slot {
	for _, s := range p.slots {
		if s.State == SlotFree {
			return s
		}
	}
	return nil
}

func (p *pool) queue(s *Slot) error {
	if s.State != SlotFree {
		return fmt.Errorf("%w: slot %d of %v queue is %v", ErrProtocol, s.Index, p.typ, s.State)
	}

	b := v4l2.Buffer{
		Index:     s.Index,
		Type:      p.typ,
		Memory:    p.memory,
		NumPlanes: len(s.Planes),
	}

	for j, sp := range s.Planes {
		b.Planes[j].BytesUsed = sp.BytesUsed
		b.Planes[j].Length = sp.Length

		if p.memory == v4l2.MemoryUserPtr {
			b.Planes[j].UserPtr = sp.Data
		}
	}

	err := p.dev.QueueBuffer(&b)
	if err != nil {
		return err
	}

	s.State = SlotQueued
	return nil
}

func (p *pool) dequeue() (*Slot, error) {
	b := v4l2.Buffer{
		Type:      p.typ,
		Memory:    p.memory,
		NumPlanes: v4l2.MaxPlanes,
	}
	if len(p.slots) != 0 {
		b.NumPlanes = len(p.slots[0].Planes)
	}

	err := p.dev.DequeueBuffer(&b)
	if err != nil {
		return nil, err
	}

	if int(b.Index) >= len(p.slots) {
		return nil, fmt.Errorf("%w: device returned unknown slot %d on %v queue", ErrProtocol, b.Index, p.typ)
	}

	s := p.slots[b.Index]

	if s.State != SlotQueued {
		return nil, fmt.Errorf("%w: device returned slot %d on %v queue, which is %v",
			ErrProtocol, b.Index, p.typ, s.State)
	}

	for j := range s.Planes {
		s.Planes[j].BytesUsed = b.Planes[j].BytesUsed
	}

	s.State = SlotDone
	return s, nil
}

func (p *pool) release(s *Slot) {
	s.State = SlotFree
}

func (p *pool) streamOn() error {
	err := p.dev.StreamOn(p.typ)
	if err != nil {
		return err
	}

	p.streaming = true
	return nil
}

func (p *pool) stats() PoolStats {
	st := PoolStats{Size: len(p.slots)}

	for _, s := range p.slots {
		switch s.State {
		case SlotFree:
			st.Free++
		case SlotQueued:
			st.Queued++
		case SlotDone:
			st.Done++
		}
	}

	return st
}

func (p *pool) queuedIndexes() []uint32 {
	ret := []uint32{}
	for _, s := range p.slots {
		if s.State == SlotQueued {
			ret = append(ret, s.Index)
		}
	}
	return ret
}

func (p *pool) close() error {
	var errs []error

	if p.memory == v4l2.MemoryMMAP {
		for _, s := range p.slots {
			for _, sp := range s.Planes {
				if sp.Data != nil {
					errs = append(errs, p.dev.Unmap(sp.Data))
				}
			}
			s.Planes = nil
		}
	}

	if p.streaming {
		errs = append(errs, p.dev.StreamOff(p.typ))
		p.streaming = false
	}

	if p.slots != nil {
		_, err := p.dev.RequestBuffers(p.typ, p.memory, 0)
		errs = append(errs, err)
		p.slots = nil
	}

	return errors.Join(errs...)
}
