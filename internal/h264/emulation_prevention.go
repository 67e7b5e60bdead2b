package h264

import (
	"errors"
)

// ErrBufferTooSmall is returned when the destination cannot contain the escaped NALU.
var ErrBufferTooSmall = errors.New("destination buffer is too small")

// EmulationPreventionSize returns a destination size that is always
// large enough to contain the escaped version of a RBSP of size n.
func EmulationPreventionSize(n int) int {
	return n + (n+1)/2 + 1
}

// EmulationPreventionAdd escapes a RBSP into dst by inserting emulation prevention bytes.
// It returns the number of bytes written.
func EmulationPreventionAdd(dst []byte, rbsp []byte) (int, error) {
	// 0x00 0x00 0x00 -> 0x00 0x00 0x03 0x00
	// 0x00 0x00 0x01 -> 0x00 0x00 0x03 0x01
	// 0x00 0x00 0x02 -> 0x00 0x00 0x03 0x02
	// 0x00 0x00 0x03 -> 0x00 0x00 0x03 0x03

	n := 0
	zeros := 0

	for _, b := range rbsp {
		if zeros == 2 && (b&0xFC) == 0 {
			if n >= len(dst) {
				return 0, ErrBufferTooSmall
			}
			dst[n] = 0x03
			n++
			zeros = 0
		}

		if n >= len(dst) {
			return 0, ErrBufferTooSmall
		}
		dst[n] = b
		n++

		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}

	if endsWithZero(dst[:n]) {
		if n >= len(dst) {
			return 0, ErrBufferTooSmall
		}
		dst[n] = 0x03
		n++
	}

	return n, nil
}

// endsWithZero checks whether buf ends with a zero byte followed by any number of 0x03 bytes.
// A final 0x03 is appended to these buffers, so that the NALU never ends with a zero
// and the final 0x03 can be told apart from RBSP data.
func endsWithZero(buf []byte) bool {
	i := len(buf) - 1
	for i >= 0 && buf[i] == 0x03 {
		i--
	}
	return i >= 0 && buf[i] == 0x00
}

// EmulationPreventionRemove removes emulation prevention bytes from a NALU.
func EmulationPreventionRemove(nalu []byte) []byte {
	if len(nalu) != 0 && nalu[len(nalu)-1] == 0x03 && endsWithZero(nalu[:len(nalu)-1]) {
		nalu = nalu[:len(nalu)-1]
	}

	ret := make([]byte, 0, len(nalu))
	zeros := 0

	for _, b := range nalu {
		if zeros == 2 && b == 0x03 {
			zeros = 0
			continue
		}

		ret = append(ret, b)

		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}

	return ret
}
