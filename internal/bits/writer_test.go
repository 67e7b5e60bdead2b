package bits

import (
	"encoding/binary"
	mbits "math/bits"
	"testing"

	mcbits "github.com/bluenviron/mediacommon/v2/pkg/bits"
	"github.com/stretchr/testify/require"
)

func TestWriterBits(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)

	w.WriteBit(true)
	w.WriteBits(3, 0b010)
	w.WriteBits(8, 0xA5)
	w.WriteBits(4, 0x0F)

	require.False(t, w.Overflow())
	require.Equal(t, 16, w.Pos())
	require.True(t, w.ByteAligned())
	require.Equal(t, []byte{0xAA, 0x5F}, w.Bytes())
}

func TestWriterUE(t *testing.T) {
	for _, ca := range []struct {
		v   uint32
		enc []byte
		pos int
	}{
		{0, []byte{0x80}, 1},
		{1, []byte{0x40}, 3},
		{2, []byte{0x60}, 3},
		{3, []byte{0x20}, 5},
		{7, []byte{0x10, 0x00}, 7},
		{254, []byte{0x01, 0xfe}, 15},
		{255, []byte{0x00, 0x80, 0x00}, 17},
	} {
		buf := make([]byte, 8)
		w := NewWriter(buf)
		w.WriteUE(ca.v)
		require.False(t, w.Overflow())
		require.Equal(t, ca.pos, w.Pos(), "value %d", ca.v)
		require.Equal(t, ca.enc, w.Bytes(), "value %d", ca.v)
	}
}

func TestWriterUETable(t *testing.T) {
	for v := uint32(0); v < 256; v++ {
		// leading zeros followed by v+1
		l := 2*mbits.Len32(v+1) - 1

		var enc [8]byte
		binary.BigEndian.PutUint64(enc[:], uint64(v+1)<<(64-l))

		buf := make([]byte, 4)
		w := NewWriter(buf)
		w.WriteUE(v)
		require.False(t, w.Overflow())
		require.Equal(t, l, w.Pos(), "value %d", v)
		require.Equal(t, enc[:(l+7)/8], w.Bytes(), "value %d", v)
	}
}

func TestWriterUERoundTrip(t *testing.T) {
	buf := make([]byte, 64)

	for v := uint32(0); v < 1<<24; v += 97 {
		for i := range buf {
			buf[i] = 0
		}

		w := NewWriter(buf)
		w.WriteUE(v)
		w.WriteUE(v + 1)
		require.False(t, w.Overflow())

		pos := 0
		dec, err := mcbits.ReadGolombUnsigned(w.Bytes(), &pos)
		require.NoError(t, err)
		require.Equal(t, v, dec)

		dec, err = mcbits.ReadGolombUnsigned(w.Bytes(), &pos)
		require.NoError(t, err)
		require.Equal(t, v+1, dec)
		require.Equal(t, w.Pos(), pos)
	}
}

func TestWriterSERoundTrip(t *testing.T) {
	buf := make([]byte, 64)

	for v := int32(-1 << 16); v <= 1<<16; v++ {
		w := NewWriter(buf)
		w.WriteSE(v)
		require.False(t, w.Overflow())

		pos := 0
		dec, err := mcbits.ReadGolombSigned(w.Bytes(), &pos)
		require.NoError(t, err)
		require.Equal(t, v, dec)
	}
}

func TestWriterOverflow(t *testing.T) {
	t.Run("bits", func(t *testing.T) {
		buf := []byte{0x00}
		w := NewWriter(buf)
		w.WriteBits(6, 0x3F)
		w.WriteBits(3, 0x07)
		require.True(t, w.Overflow())
		require.Equal(t, 6, w.Pos())
		require.Equal(t, []byte{0xFC}, buf)
	})

	t.Run("ue", func(t *testing.T) {
		buf := []byte{0x00}
		w := NewWriter(buf)
		w.WriteUE(300)
		require.True(t, w.Overflow())
		require.Equal(t, 0, w.Pos())
		require.Equal(t, []byte{0x00}, buf)
	})

	t.Run("sticky", func(t *testing.T) {
		w := NewWriter(make([]byte, 1))
		w.WriteBits(9, 0)
		w.WriteBit(true)
		require.True(t, w.Overflow())
		require.Equal(t, 0, w.Pos())
	})

	t.Run("bytes", func(t *testing.T) {
		buf := make([]byte, 3)
		w := NewWriter(buf)
		w.WriteBits(8, 0x11)
		n := w.WriteBytes([]byte{1, 2, 3})
		require.Equal(t, 2, n)
		require.True(t, w.Overflow())
		require.Equal(t, []byte{0x11, 1, 2}, buf)
	})
}

func TestWriterAlignWithStopBit(t *testing.T) {
	for _, ca := range []struct {
		name  string
		pre   int
		bytes []byte
	}{
		{"aligned", 0, []byte{0x80}},
		{"one bit", 1, []byte{0x40}},
		{"seven bits", 7, []byte{0x01}},
		{"eight bits", 8, []byte{0x00, 0x80}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			w := NewWriter(make([]byte, 4))
			w.WriteBits(ca.pre, 0)
			w.AlignWithStopBit()
			require.True(t, w.ByteAligned())
			require.Equal(t, ca.bytes, w.Bytes())
		})
	}
}
