package h264

import (
	"github.com/bluenviron/hwdecode/internal/bits"
)

// WritePPS writes a picture parameter set RBSP that references SPS 0.
func WritePPS(w *bits.Writer, info *PictureInfo) {
	w.WriteUE(0) // pic_parameter_set_id
	w.WriteUE(0) // seq_parameter_set_id
	w.WriteBits(1, boolBit(info.EntropyCodingModeFlag))
	w.WriteBits(1, boolBit(info.PicOrderPresentFlag))
	w.WriteUE(0) // num_slice_groups_minus1
	w.WriteUE(uint32(info.NumRefIdxL0ActiveMinus1))
	w.WriteUE(uint32(info.NumRefIdxL1ActiveMinus1))
	w.WriteBits(1, boolBit(info.WeightedPredFlag))
	w.WriteBits(2, uint32(info.WeightedBipredIdc))
	w.WriteSE(int32(info.PicInitQpMinus26))
	w.WriteSE(0) // pic_init_qs_minus26
	w.WriteSE(int32(info.ChromaQpIndexOffset))
	w.WriteBits(1, boolBit(info.DeblockingFilterControlPresentFlag))
	w.WriteBits(1, boolBit(info.ConstrainedIntraPredFlag))
	w.WriteBits(1, boolBit(info.RedundantPicCntPresentFlag))
	w.WriteBits(1, boolBit(info.Transform8x8ModeFlag))
	w.WriteBit(false) // pic_scaling_matrix_present_flag
	w.WriteSE(int32(info.SecondChromaQpIndexOffset))
	w.AlignWithStopBit()
}
