package h264

// PictureInfo contains the H.264 picture parameters provided by the caller
// together with every decode request.
type PictureInfo struct {
	SliceCount      uint32
	FieldOrderCnt   [2]int32
	IsReference     bool
	FrameNum        uint16
	FieldPicFlag    bool
	BottomFieldFlag bool

	NumRefFrames                       uint8
	MbAdaptiveFrameFieldFlag           bool
	ConstrainedIntraPredFlag           bool
	WeightedPredFlag                   bool
	WeightedBipredIdc                  uint8
	FrameMbsOnlyFlag                   bool
	Transform8x8ModeFlag               bool
	ChromaQpIndexOffset                int8
	SecondChromaQpIndexOffset          int8
	PicInitQpMinus26                   int8
	NumRefIdxL0ActiveMinus1            uint8
	NumRefIdxL1ActiveMinus1            uint8
	Log2MaxFrameNumMinus4              uint8
	PicOrderCntType                    uint8
	Log2MaxPicOrderCntLsbMinus4        uint8
	DeltaPicOrderAlwaysZeroFlag        bool
	Direct8x8InferenceFlag             bool
	EntropyCodingModeFlag              bool
	PicOrderPresentFlag                bool
	DeblockingFilterControlPresentFlag bool
	RedundantPicCntPresentFlag         bool

	ScalingLists4x4 [6][16]uint8
	ScalingLists8x8 [2][64]uint8
}

// FlatScalingLists fills every scaling list with the flat value 16.
func (i *PictureInfo) FlatScalingLists() {
	for j := range i.ScalingLists4x4 {
		for k := range i.ScalingLists4x4[j] {
			i.ScalingLists4x4[j][k] = 16
		}
	}
	for j := range i.ScalingLists8x8 {
		for k := range i.ScalingLists8x8[j] {
			i.ScalingLists8x8[j][k] = 16
		}
	}
}
