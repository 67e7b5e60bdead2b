package test

// SPS is a H264 SPS of a 1920x1080 baseline stream.
var SPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
}

// PPS is a H264 PPS.
var PPS = []byte{0x68, 0xce, 0x3c, 0x80}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

func appendNALU(dst []byte, nalu []byte) []byte {
	dst = append(dst, startCode...)
	return append(dst, nalu...)
}

func slice(typ byte, frame int) []byte {
	return []byte{typ, 0x88, 0x84, byte(frame) | 0x80, 0x21, 0xa0}
}

// H264Stream returns a H264 Annex-B stream made of SPS, PPS, an IDR slice
// and frameCount-1 non-IDR slices.
func H264Stream(frameCount int) []byte {
	var ret []byte
	ret = appendNALU(ret, SPS)
	ret = appendNALU(ret, PPS)

	for i := 0; i < frameCount; i++ {
		if i == 0 {
			ret = appendNALU(ret, slice(0x65, i))
		} else {
			ret = appendNALU(ret, slice(0x41, i))
		}
	}

	return ret
}

// H264Frames returns the non-IDR slices of a H264 stream, one access unit per entry.
func H264Frames(first int, count int) [][]byte {
	ret := make([][]byte, count)
	for i := range ret {
		ret[i] = appendNALU(nil, slice(0x41, first+i))
	}
	return ret
}
