package h264

import (
	"errors"
	"fmt"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/hwdecode/internal/bits"
)

const (
	// ParameterSetsMaxSize is the size of the scratch area used to build SPS and PPS.
	ParameterSetsMaxSize = 256

	nalRefIdcHighest = 3
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// ErrEncodingOverflow is returned when a RBSP does not fit into its scratch area.
var ErrEncodingOverflow = errors.New("RBSP encoding overflow")

// MarshalNALU writes into dst a start code, the NALU header and the escaped RBSP.
// It returns the number of bytes written.
func MarshalNALU(dst []byte, typ mch264.NALUType, rbsp []byte) (int, error) {
	if len(dst) < len(startCode)+1 {
		return 0, ErrBufferTooSmall
	}

	n := copy(dst, startCode)
	dst[n] = byte(nalRefIdcHighest<<5) | byte(typ)
	n++

	l, err := EmulationPreventionAdd(dst[n:], rbsp)
	if err != nil {
		return 0, err
	}

	return n + l, nil
}

func writeNALU(dst []byte, typ mch264.NALUType, width int, height int,
	profileIdc uint8, info *PictureInfo,
) (int, error) {
	rbsp := make([]byte, len(dst)*3/4)
	w := bits.NewWriter(rbsp)

	switch typ {
	case mch264.NALUTypeSPS:
		WriteSPS(w, width, height, profileIdc, info)

	case mch264.NALUTypePPS:
		WritePPS(w, info)

	default:
		return 0, fmt.Errorf("unsupported NALU type: %v", typ)
	}

	if w.Overflow() {
		return 0, ErrEncodingOverflow
	}

	return MarshalNALU(dst, typ, w.Bytes())
}

// Synthesizer builds SPS and PPS NALUs from caller-provided picture parameters.
type Synthesizer struct {
	Width      int
	Height     int
	ProfileIdc uint8

	scratch [ParameterSetsMaxSize]byte
}

// ParameterSets returns a SPS NALU followed by a PPS NALU, both prefixed by start codes.
// The returned slice is valid until the next call.
func (s *Synthesizer) ParameterSets(info *PictureInfo) ([]byte, error) {
	n, err := writeNALU(s.scratch[:], mch264.NALUTypeSPS, s.Width, s.Height, s.ProfileIdc, info)
	if err != nil {
		return nil, fmt.Errorf("unable to write SPS: %w", err)
	}

	l, err := writeNALU(s.scratch[n:], mch264.NALUTypePPS, s.Width, s.Height, s.ProfileIdc, info)
	if err != nil {
		return nil, fmt.Errorf("unable to write PPS: %w", err)
	}

	return s.scratch[:n+l], nil
}
