package source

import (
	mcbits "github.com/bluenviron/mediacommon/v2/pkg/bits"
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/hwdecode/internal/defs"
)

const (
	mpeg12SequenceHeaderStartCode = 0xB3
)

func probeH264(data []byte) (int, int, bool) {
	var au mch264.AnnexB
	err := au.Unmarshal(data)
	if err != nil {
		return 0, 0, false
	}

	for _, nalu := range au {
		if len(nalu) == 0 || mch264.NALUType(nalu[0]&0x1F) != mch264.NALUTypeSPS {
			continue
		}

		var sps mch264.SPS
		err = sps.Unmarshal(nalu)
		if err != nil {
			continue
		}

		return sps.Width(), sps.Height(), true
	}

	return 0, 0, false
}

func probeMPEG12(data []byte) (int, int, bool) {
	for i := 0; i+7 <= len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 || data[i+3] != mpeg12SequenceHeaderStartCode {
			continue
		}

		pos := (i + 4) * 8

		w, err := mcbits.ReadBits(data, &pos, 12)
		if err != nil {
			return 0, 0, false
		}

		h, err := mcbits.ReadBits(data, &pos, 12)
		if err != nil {
			return 0, 0, false
		}

		if w == 0 || h == 0 {
			return 0, 0, false
		}

		return int(w), int(h), true
	}

	return 0, 0, false
}

// Probe finds the picture size in the parameter sets of a chunk of coded data.
func Probe(p defs.Profile, data []byte) (int, int, bool) {
	switch p.Codec() {
	case defs.CodecH264:
		return probeH264(data)

	case defs.CodecMPEG12:
		return probeMPEG12(data)
	}

	return 0, 0, false
}
