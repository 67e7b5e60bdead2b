package h264

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

var casesEmulationPrevention = []struct {
	name   string
	unproc []byte
	proc   []byte
}{
	{
		"base",
		[]byte{
			0x00, 0x00, 0x00,
			0x00, 0x00, 0x01,
			0x00, 0x00, 0x02,
			0x00, 0x00, 0x03,
		},
		[]byte{
			0x00, 0x00, 0x03, 0x00,
			0x00, 0x03, 0x00, 0x01,
			0x00, 0x00, 0x03, 0x02,
			0x00, 0x00, 0x03, 0x03, 0x03,
		},
	},
	{
		"no escape",
		[]byte{0x00, 0x00, 0x04, 0x67, 0x00, 0x00, 0x80},
		[]byte{0x00, 0x00, 0x04, 0x67, 0x00, 0x00, 0x80},
	},
	{
		"trailing zeros",
		[]byte{0xAA, 0x00, 0x00},
		[]byte{0xAA, 0x00, 0x00, 0x03},
	},
	{
		"trailing zero",
		[]byte{0xAA, 0x00},
		[]byte{0xAA, 0x00, 0x03},
	},
	{
		"trailing zero and 03",
		[]byte{0x01, 0x00, 0x05, 0x00, 0x03},
		[]byte{0x01, 0x00, 0x05, 0x00, 0x03, 0x03},
	},
	{
		"all zeros",
		[]byte{0x00, 0x00, 0x00, 0x00},
		[]byte{0x00, 0x00, 0x03, 0x00, 0x00, 0x03},
	},
}

func TestEmulationPreventionAdd(t *testing.T) {
	for _, ca := range casesEmulationPrevention {
		t.Run(ca.name, func(t *testing.T) {
			dst := make([]byte, EmulationPreventionSize(len(ca.unproc)))
			n, err := EmulationPreventionAdd(dst, ca.unproc)
			require.NoError(t, err)
			require.Equal(t, ca.proc, dst[:n])
		})
	}
}

func TestEmulationPreventionRemove(t *testing.T) {
	for _, ca := range casesEmulationPrevention {
		t.Run(ca.name, func(t *testing.T) {
			unproc := EmulationPreventionRemove(ca.proc)
			require.Equal(t, ca.unproc, unproc)
		})
	}
}

func TestEmulationPreventionBufferTooSmall(t *testing.T) {
	for _, ca := range []struct {
		name string
		rbsp []byte
		size int
	}{
		{"copy", []byte{1, 2, 3, 4}, 3},
		{"escape", []byte{0, 0, 1}, 3},
		{"trailing", []byte{1, 0}, 2},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := EmulationPreventionAdd(make([]byte, ca.size), ca.rbsp)
			require.ErrorIs(t, err, ErrBufferTooSmall)
		})
	}
}

func TestEmulationPreventionRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		rbsp := make([]byte, 1+r.Intn(64))
		for j := range rbsp {
			// bias towards small values to produce start code emulations
			rbsp[j] = byte(r.Intn(5))
		}

		dst := make([]byte, EmulationPreventionSize(len(rbsp)))
		n, err := EmulationPreventionAdd(dst, rbsp)
		require.NoError(t, err)

		for j := 2; j < n; j++ {
			if dst[j-2] == 0 && dst[j-1] == 0 {
				require.GreaterOrEqual(t, dst[j], byte(0x03))
			}
		}

		require.Equal(t, rbsp, EmulationPreventionRemove(dst[:n]))
	}
}
