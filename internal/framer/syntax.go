package framer

import (
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4video"

	"github.com/bluenviron/hwdecode/internal/defs"
)

// MPEG-4 part 2 start codes not exported by mediacommon.
const (
	mpeg4UserDataStartCode     = 0xB2
	mpeg4VisualObjectStartCode = 0xB5
	mpeg4VOPStartCode          = 0xB6
)

// MPEG-1/2 start codes.
const (
	mpeg12PictureStartCode  = 0x00
	mpeg12SequenceStartCode = 0xB3
	mpeg12GroupStartCode    = 0xB8
)

type unitClass int

const (
	classNone unitClass = iota
	classHeader
	classPicture
	classSlice
)

// syntax contains the rules of a start code grammar.
type syntax struct {
	// a zero before a 3-byte start code belongs to the start code.
	leadingZero bool

	// pictures can start with a short video header.
	shortHeader bool

	// classify classifies the byte that follows a start code.
	classify func(b byte) unitClass
}

func classifyH264(b byte) unitClass {
	switch mch264.NALUType(b & 0x1F) {
	case mch264.NALUTypeNonIDR, mch264.NALUTypeIDR:
		return classSlice

	case mch264.NALUTypeSEI, mch264.NALUTypeSPS, mch264.NALUTypePPS:
		return classHeader
	}
	return classNone
}

func classifyMPEG4(b byte) unitClass {
	switch {
	case (b&0xF0) <= 0x20,
		b == byte(mpeg4video.VisualObjectSequenceStartCode),
		b == mpeg4UserDataStartCode,
		b == byte(mpeg4video.GroupOfVOPStartCode),
		b == mpeg4VisualObjectStartCode:
		return classHeader

	case b == mpeg4VOPStartCode:
		return classPicture
	}
	return classNone
}

func classifyMPEG12(b byte) unitClass {
	switch b {
	case mpeg12SequenceStartCode, mpeg12GroupStartCode:
		return classHeader

	case mpeg12PictureStartCode:
		return classPicture
	}
	return classNone
}

func syntaxForCodec(c defs.Codec) syntax {
	switch c {
	case defs.CodecH264:
		return syntax{
			leadingZero: true,
			classify:    classifyH264,
		}

	case defs.CodecMPEG4:
		return syntax{
			shortHeader: true,
			classify:    classifyMPEG4,
		}
	}

	return syntax{
		classify: classifyMPEG12,
	}
}
