package h264

import (
	"github.com/bluenviron/hwdecode/internal/bits"
)

// profile_idc values.
const (
	ProfileIdcBaseline uint8 = 66
	ProfileIdcMain     uint8 = 77
	ProfileIdcHigh     uint8 = 100
)

const levelIdc = 31

func boolBit(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// WriteSPS writes a sequence parameter set RBSP.
// Cropping amounts are expressed directly in pixels left over by the macroblock grid.
func WriteSPS(w *bits.Writer, width int, height int, profileIdc uint8, info *PictureInfo) {
	w.WriteBits(8, uint32(profileIdc))
	w.WriteBits(6, 0) // constraint_set0..5_flag
	w.WriteBits(2, 0) // reserved_zero_2bits
	w.WriteBits(8, levelIdc)
	w.WriteUE(0) // seq_parameter_set_id

	if profileIdc == ProfileIdcHigh {
		w.WriteUE(1)      // chroma_format_idc
		w.WriteUE(0)      // bit_depth_luma_minus8
		w.WriteUE(0)      // bit_depth_chroma_minus8
		w.WriteBit(false) // qpprime_y_zero_transform_bypass_flag
		w.WriteBit(true)  // seq_scaling_matrix_present_flag

		for i := 0; i < 8; i++ {
			w.WriteBit(true) // seq_scaling_list_present_flag
			if i < 6 {
				writeScalingList(w, info.ScalingLists4x4[i][:])
			} else {
				writeScalingList(w, info.ScalingLists8x8[i-6][:])
			}
		}
	}

	w.WriteUE(uint32(info.Log2MaxFrameNumMinus4))
	w.WriteUE(uint32(info.PicOrderCntType))

	switch info.PicOrderCntType {
	case 0:
		w.WriteUE(uint32(info.Log2MaxPicOrderCntLsbMinus4))

	case 1:
		w.WriteBits(1, boolBit(info.DeltaPicOrderAlwaysZeroFlag))
		w.WriteSE(0) // offset_for_non_ref_pic
		w.WriteSE(0) // offset_for_top_to_bottom_field
		w.WriteUE(0) // num_ref_frames_in_pic_order_cnt_cycle
	}

	w.WriteUE(uint32(info.NumRefFrames))
	w.WriteBit(false) // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(uint32((width - 1) / 16))
	w.WriteUE(uint32((height - 1) / 16))
	w.WriteBits(1, boolBit(info.FrameMbsOnlyFlag))

	if !info.FrameMbsOnlyFlag {
		w.WriteBits(1, boolBit(info.MbAdaptiveFrameFieldFlag))
	}

	w.WriteBits(1, boolBit(info.Direct8x8InferenceFlag))

	crop := (width%16) != 0 || (height%16) != 0
	w.WriteBit(crop)

	if crop {
		w.WriteUE(0)
		w.WriteUE(uint32(width % 16))
		w.WriteUE(0)
		w.WriteUE(uint32(height % 16))
	}

	w.WriteBit(false) // vui_parameters_present_flag
	w.AlignWithStopBit()
}

// writeScalingList writes deltas from the previous scale, starting from 8.
// A zero entry ends the explicit part of the list.
func writeScalingList(w *bits.Writer, list []uint8) {
	lastScale := 8
	nextScale := 8

	for _, v := range list {
		if nextScale != 0 {
			nextScale = int(v)
			w.WriteSE(int32((nextScale - lastScale) % 256))
		}
		lastScale = int(v)
	}
}
