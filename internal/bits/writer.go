// Package bits contains a bit-granular writer for H.264 syntax elements.
package bits

import (
	mbits "math/bits"
)

// ueLenTable contains the bit length of values in [0, 256).
var ueLenTable = func() [256]uint8 {
	var t [256]uint8
	for i := 1; i < 256; i++ {
		t[i] = t[i/2] + 1
	}
	return t
}()

// ueLen returns the bit length of v.
func ueLen(v uint64) int {
	switch {
	case v < 0x100:
		return int(ueLenTable[v])
	case v < 0x10000:
		return 8 + int(ueLenTable[v>>8])
	case v < 0x1000000:
		return 16 + int(ueLenTable[v>>16])
	default:
		return mbits.Len64(v)
	}
}

// Writer writes bits into a fixed-size buffer, most significant bit first.
// When a write doesn't fit, the overflow flag is set and the buffer is left untouched.
type Writer struct {
	buf      []byte
	pos      int
	overflow bool
}

// NewWriter allocates a Writer that writes into buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) hasSpace(n int) bool {
	if w.overflow || (len(w.buf)*8-w.pos) < n {
		w.overflow = true
		return false
	}
	return true
}

func (w *Writer) writeBitUnsafe(v uint64) {
	i := w.pos >> 3
	shift := 7 - uint(w.pos&0x07)

	if v != 0 {
		w.buf[i] |= 1 << shift
	} else {
		w.buf[i] &^= 1 << shift
	}

	w.pos++
}

func (w *Writer) writeBitsUnsafe(n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		w.writeBitUnsafe((v >> uint(i)) & 0x01)
	}
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(v bool) {
	if !w.hasSpace(1) {
		return
	}

	if v {
		w.writeBitUnsafe(1)
	} else {
		w.writeBitUnsafe(0)
	}
}

// WriteBits writes the n least significant bits of v. n must be <= 32.
func (w *Writer) WriteBits(n int, v uint32) {
	if n < 0 || n > 32 {
		panic("invalid bit count")
	}

	if !w.hasSpace(n) {
		return
	}

	w.writeBitsUnsafe(n, uint64(v))
}

// WriteUE writes an unsigned Exp-Golomb code.
func (w *Writer) WriteUE(v uint32) {
	v1 := uint64(v) + 1
	l := ueLen(v1)

	if !w.hasSpace(2*l - 1) {
		return
	}

	w.writeBitsUnsafe(l-1, 0)
	w.writeBitsUnsafe(l, v1)
}

// WriteSE writes a signed Exp-Golomb code.
func (w *Writer) WriteSE(v int32) {
	if v <= 0 {
		w.WriteUE(uint32(-int64(v) * 2))
	} else {
		w.WriteUE(uint32(int64(v)*2 - 1))
	}
}

// AlignWithStopBit writes the RBSP trailing bits: a one followed by zeros up to the next byte boundary.
func (w *Writer) AlignWithStopBit() {
	n := 1
	if rem := (w.pos + 1) & 0x07; rem != 0 {
		n += 8 - rem
	}

	if !w.hasSpace(n) {
		return
	}

	w.writeBitsUnsafe(n, 1<<uint(n-1))
}

// WriteBytes copies buf into the writer, that must be byte aligned.
// It returns the number of bytes copied; a short copy sets the overflow flag.
func (w *Writer) WriteBytes(buf []byte) int {
	if !w.ByteAligned() || w.overflow {
		w.overflow = true
		return 0
	}

	n := copy(w.buf[w.pos>>3:], buf)
	w.pos += n * 8

	if n != len(buf) {
		w.overflow = true
	}

	return n
}

// Pos returns the current position in bits.
func (w *Writer) Pos() int {
	return w.pos
}

// Len returns the number of bytes touched by writes, including a partial last byte.
func (w *Writer) Len() int {
	return (w.pos + 7) >> 3
}

// Bytes returns the written part of the buffer.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.Len()]
}

// Overflow returns whether a write did not fit into the buffer.
func (w *Writer) Overflow() bool {
	return w.overflow
}

// ByteAligned returns whether the position is on a byte boundary.
func (w *Writer) ByteAligned() bool {
	return (w.pos & 0x07) == 0
}
