// Package framer contains a stream framer that splits elementary streams into access units.
package framer

import (
	"errors"

	"github.com/bluenviron/hwdecode/internal/defs"
)

var (
	// ErrBufferFull is returned by Push when data doesn't fit into the ring buffer.
	ErrBufferFull = errors.New("stream buffer is full")

	// ErrOutputTooSmall is returned when an access unit doesn't fit into the output buffer.
	// The access unit is kept and is returned by the next call.
	ErrOutputTooSmall = errors.New("output buffer is too small for access unit")
)

type state int

const (
	stateIdle state = iota
	stateSaw0x1
	stateSaw0x2
	stateSaw0x3
	stateStartCode
	stateSlice
)

type tag int

const (
	tagHeader tag = iota
	tagPicture
)

// Unit is the position of an access unit in the stream.
type Unit struct {
	Start uint64
	End   uint64
}

// Len returns the size of the access unit.
func (u Unit) Len() int {
	return int(u.End - u.Start)
}

// Framer splits an elementary stream into access units.
//
// Data is accumulated into a ring buffer. An access unit begins with the first
// header or picture start code after the previous boundary and ends before the
// start code that begins the next header cluster or picture.
// Counters are absolute stream offsets.
type Framer struct {
	syn  syntax
	buf  []byte
	size uint64

	head uint64
	tail uint64
	ptr  uint64

	state       state
	lastTag     tag
	pictures    int
	headers     int
	codeStart   uint64
	unitStart   uint64
	unitEnd     uint64
	gotStart    bool
	gotEnd      bool
	seekEnd     bool
	shortHeader bool
	flushed     bool
}

// New allocates a Framer.
func New(codec defs.Codec, size int) *Framer {
	return &Framer{
		syn:  syntaxForCodec(codec),
		buf:  make([]byte, size),
		size: uint64(size),
	}
}

// Reset discards all data and restarts parsing.
func (f *Framer) Reset() {
	*f = Framer{
		syn:  f.syn,
		buf:  f.buf,
		size: f.size,
	}
}

// Available returns the number of bytes that are buffered and not yet extracted.
func (f *Framer) Available() int {
	return int(f.head - f.tail)
}

// Free returns the number of bytes that can be pushed.
func (f *Framer) Free() int {
	return int(f.size - (f.head - f.tail))
}

// Push appends data to the ring buffer.
func (f *Framer) Push(b []byte) error {
	if f.head-f.tail+uint64(len(b)) > f.size {
		return ErrBufferFull
	}

	offset := f.head % f.size
	n := copy(f.buf[offset:], b)
	copy(f.buf, b[n:])

	f.head += uint64(len(b))
	f.flushed = false
	return nil
}

// Flush marks the end of the stream.
// The access unit that is being parsed ends at the last pushed byte.
func (f *Framer) Flush() {
	f.flushed = true
}

func (f *Framer) step(b byte, getHead bool) {
	switch f.state {
	case stateIdle:
		if b == 0x00 {
			f.state = stateSaw0x1
			f.codeStart = f.ptr
		}

	case stateSaw0x1:
		if b == 0x00 {
			f.state = stateSaw0x2
		} else {
			f.state = stateIdle
		}

	case stateSaw0x2:
		switch {
		case b == 0x01:
			f.state = stateStartCode

		case f.syn.shortHeader && (b&0xFC) == 0x80:
			f.state = stateIdle

			// the first short header after a normal header is the stream header
			if getHead && !f.shortHeader {
				f.lastTag = tagHeader
				f.headers++
				f.shortHeader = true
			} else if !f.seekEnd || f.shortHeader {
				f.lastTag = tagPicture
				f.pictures++
				f.shortHeader = true
			}

		case b == 0x00:
			if f.syn.leadingZero {
				f.state = stateSaw0x3
			} else {
				f.codeStart++
			}

		default:
			f.state = stateIdle
		}

	case stateSaw0x3:
		switch b {
		case 0x01:
			f.state = stateStartCode

		case 0x00:
			f.codeStart++

		default:
			f.state = stateIdle
		}

	case stateStartCode:
		f.state = stateIdle

		switch f.syn.classify(b) {
		case classSlice:
			f.state = stateSlice

		case classHeader:
			f.lastTag = tagHeader
			f.headers++

		case classPicture:
			f.lastTag = tagPicture
			f.pictures++
		}

	case stateSlice:
		// first_mb_in_slice == 0 starts a new picture
		if (b & 0x80) != 0 {
			f.lastTag = tagPicture
			f.pictures++
		}
		f.state = stateIdle
	}
}

// boundary updates the unit limits after a byte has been parsed.
// It returns true when the end of a unit has been found.
func (f *Framer) boundary(getHead bool) bool {
	if getHead && f.headers >= 1 && f.pictures == 1 {
		f.unitEnd = f.codeStart
		f.gotEnd = true
		return true
	}

	if !f.gotStart && f.headers == 1 && f.pictures == 0 {
		f.unitStart = f.codeStart
		f.gotStart = true
	}

	if !f.gotStart && f.headers == 0 && f.pictures == 1 {
		f.unitStart = f.codeStart
		f.gotStart = true
		f.seekEnd = true
		f.pictures = 0
	}

	if !f.seekEnd && f.headers > 0 && f.pictures == 1 {
		f.seekEnd = true
		f.headers = 0
		f.pictures = 0
	}

	if f.seekEnd && (f.headers > 0 || f.pictures > 0) {
		f.unitEnd = f.codeStart
		f.gotEnd = true
		f.seekEnd = (f.headers == 0)
		return true
	}

	return false
}

// Next parses buffered data until the end of the current access unit is found,
// and returns its position without consuming it.
func (f *Framer) Next(getHead bool) (Unit, bool) {
	if !f.gotEnd {
		for f.ptr < f.head {
			f.step(f.buf[f.ptr%f.size], getHead)
			f.ptr++

			if f.boundary(getHead) {
				break
			}
		}
	}

	if f.flushed && f.gotStart && !f.gotEnd && f.ptr == f.head && f.head > f.unitStart {
		f.unitEnd = f.head
		f.gotEnd = true
	}

	if !f.gotStart || !f.gotEnd {
		return Unit{}, false
	}

	return Unit{Start: f.unitStart, End: f.unitEnd}, true
}

// consume releases the current access unit.
func (f *Framer) consume() {
	f.tail = f.unitEnd
	f.unitStart = f.unitEnd
	f.gotEnd = false

	f.pictures = 0

	if f.lastTag == tagPicture {
		f.seekEnd = true
		f.headers = 0
	} else {
		f.seekEnd = false
		f.headers = 1
		f.shortHeader = false
	}
}

func (f *Framer) extract(out []byte, getHead bool) (int, error) {
	u, ok := f.Next(getHead)
	if !ok {
		return 0, nil
	}

	l := u.Len()
	if len(out) < l {
		return 0, ErrOutputTooSmall
	}

	offset := u.Start % f.size
	n := copy(out[:l], f.buf[offset:])
	copy(out[n:l], f.buf)

	f.consume()

	return l, nil
}

// Extract copies the next access unit into out.
// It returns 0 when no complete access unit is available yet.
func (f *Framer) Extract(out []byte) (int, error) {
	return f.extract(out, false)
}

// ExtractHead copies the leading header cluster into out.
// It is meant to be called once, before any call to Extract.
func (f *Framer) ExtractHead(out []byte) (int, error) {
	return f.extract(out, true)
}
