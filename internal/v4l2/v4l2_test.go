package v4l2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/hwdecode/internal/defs"
)

func TestFourCC(t *testing.T) {
	require.Equal(t, FourCC(0x34363248), PixFmtH264)
	require.Equal(t, "H264", PixFmtH264.String())
	require.Equal(t, "TM12", PixFmtNV12MT.String())
	require.Equal(t, "YM12", PixFmtYUV420M.String())
}

func TestCodedFormat(t *testing.T) {
	for _, ca := range []struct {
		profile defs.Profile
		format  FourCC
	}{
		{defs.ProfileMPEG1, PixFmtMPEG1},
		{defs.ProfileMPEG2Simple, PixFmtMPEG2},
		{defs.ProfileMPEG2Main, PixFmtMPEG2},
		{defs.ProfileH264Baseline, PixFmtH264},
		{defs.ProfileH264High, PixFmtH264},
		{defs.ProfileMPEG4SP, PixFmtMPEG4},
		{defs.ProfileMPEG4ASP, PixFmtMPEG4},
	} {
		t.Run(ca.profile.String(), func(t *testing.T) {
			require.Equal(t, ca.format, CodedFormat(ca.profile))
		})
	}
}

func TestIsM2M(t *testing.T) {
	require.True(t, IsM2M(CapVideoM2MMPlane|CapStreaming))
	require.True(t, IsM2M(CapVideoCaptureMPlane|CapVideoOutputMPlane|CapStreaming))
	require.False(t, IsM2M(CapVideoCaptureMPlane|CapStreaming))
	require.False(t, IsM2M(CapVideoM2MMPlane))
}
