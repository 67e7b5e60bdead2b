package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"code.cloudfoundry.org/bytefmt"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/hwdecode/internal/conf"
	"github.com/bluenviron/hwdecode/internal/defs"
	"github.com/bluenviron/hwdecode/internal/framer"
	"github.com/bluenviron/hwdecode/internal/h264"
	"github.com/bluenviron/hwdecode/internal/logger"
	"github.com/bluenviron/hwdecode/internal/pipeline"
	"github.com/bluenviron/hwdecode/internal/test"
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

type notM2MDevice struct {
	*test.M2MDevice
}

func (d *notM2MDevice) QueryCapability() (*v4l2.Capability, error) {
	return &v4l2.Capability{
		Driver:       "uvcvideo",
		Capabilities: v4l2.CapVideoCaptureMPlane,
	}, nil
}

type logCollector struct {
	entries []string
}

func (c *logCollector) Log(_ logger.Level, format string, args ...any) {
	c.entries = append(c.entries, fmt.Sprintf(format, args...))
}

func (c *logCollector) count(sub string) int {
	n := 0
	for _, e := range c.entries {
		if strings.Contains(e, sub) {
			n++
		}
	}
	return n
}

func newConf(t *testing.T) *conf.Conf {
	cnf, _, err := conf.Load("", nil)
	require.NoError(t, err)
	return cnf
}

func pictureInfo(numRefFrames uint8) *h264.PictureInfo {
	info := &h264.PictureInfo{
		NumRefFrames:                numRefFrames,
		FrameMbsOnlyFlag:            true,
		Direct8x8InferenceFlag:      true,
		Log2MaxPicOrderCntLsbMinus4: 2,
	}
	info.FlatScalingLists()
	return info
}

type deviceFinder struct {
	devices  map[string]v4l2.Device
	keywords [][]string
}

func (f *deviceFinder) find(keywords ...string) (v4l2.Device, string, error) {
	f.keywords = append(f.keywords, keywords)

	dev, ok := f.devices[keywords[0]]
	if !ok {
		return nil, "", fmt.Errorf("no device matches %v", keywords)
	}

	return dev, "/dev/" + keywords[0], nil
}

func newSession(
	t *testing.T,
	cnf *conf.Conf,
	parent logger.Writer,
	width int,
	height int,
	devices map[string]v4l2.Device,
) (*Session, *deviceFinder) {
	f := &deviceFinder{devices: devices}

	s := &Session{
		Conf:       cnf,
		Profile:    defs.ProfileH264High,
		Width:      width,
		Height:     height,
		Parent:     parent,
		FindDevice: f.find,
		OpenDevice: func(path string) (v4l2.Device, error) {
			return nil, fmt.Errorf("unexpected open of %s", path)
		},
	}

	err := s.Initialize()
	require.NoError(t, err)

	return s, f
}

func collectPictures(t *testing.T, s *Session, values *[]byte) {
	for {
		ok, err := s.GetPicture(pipeline.PresenterFunc(func(pic *pipeline.Picture) error {
			require.Equal(t, s.Width, pic.Width)
			require.Equal(t, s.Height, pic.Height)
			*values = append(*values, pic.Planes[0].Data[0])
			return nil
		}))
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}

func TestSessionUnsupportedSize(t *testing.T) {
	f := &deviceFinder{}

	s := &Session{
		Conf:       newConf(t),
		Profile:    defs.ProfileH264High,
		Width:      7680,
		Height:     4320,
		Parent:     test.NilLogger,
		FindDevice: f.find,
	}

	err := s.Initialize()
	require.EqualError(t, err, "unable to decode h264-high: unsupported size: 7680x4320 (max 3840x2160)")
	require.Empty(t, f.keywords)
}

func TestSessionDeviceDiscovery(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 640, Height: 480}
	conv := &test.M2MDevice{Converter: true}

	s, f := newSession(t, newConf(t), test.NilLogger, 640, 480, map[string]v4l2.Device{
		"s5p-mfc-dec": dec,
		"fimc":        conv,
	})

	require.Equal(t, [][]string{{"s5p-mfc-dec"}, {"fimc", "m2m"}}, f.keywords)
	require.NotEmpty(t, s.ID())
	require.Equal(t, Parameters{
		Profile: defs.ProfileH264High,
		Width:   640,
		Height:  480,
	}, s.Parameters())

	s.Close()

	require.True(t, dec.Closed())
	require.True(t, conv.Closed())
}

func TestSessionConverterOptional(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 640, Height: 480}

	s, _ := newSession(t, newConf(t), test.NilLogger, 640, 480, map[string]v4l2.Device{
		"s5p-mfc-dec": dec,
	})
	defer s.Close()

	err := s.Decode([][]byte{test.H264Stream(3)}, nil)
	require.NoError(t, err)
	require.False(t, s.Stats().Converting)
}

func TestSessionConverterExplicitMissing(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 640, Height: 480}

	cnf := newConf(t)
	cnf.ConverterDevice = "/dev/video1"

	f := &deviceFinder{devices: map[string]v4l2.Device{"s5p-mfc-dec": dec}}

	s := &Session{
		Conf:       cnf,
		Profile:    defs.ProfileH264High,
		Width:      640,
		Height:     480,
		Parent:     test.NilLogger,
		FindDevice: f.find,
		OpenDevice: func(_ string) (v4l2.Device, error) {
			return nil, os.ErrNotExist
		},
	}

	err := s.Initialize()
	require.ErrorIs(t, err, os.ErrNotExist)
	require.True(t, dec.Closed())
}

func TestSessionDecoderNotM2M(t *testing.T) {
	dev := &notM2MDevice{&test.M2MDevice{}}

	cnf := newConf(t)
	cnf.DecoderDevice = "/dev/video0"

	s := &Session{
		Conf:    cnf,
		Profile: defs.ProfileH264High,
		Width:   640,
		Height:  480,
		Parent:  test.NilLogger,
		OpenDevice: func(_ string) (v4l2.Device, error) {
			return dev, nil
		},
	}

	err := s.Initialize()
	require.EqualError(t, err, "decoder /dev/video0 is not a memory-to-memory device")
	require.True(t, dev.Closed())
}

func TestSessionDecode(t *testing.T) {
	for _, ca := range []string{
		"direct",
		"converter",
	} {
		t.Run(ca, func(t *testing.T) {
			devices := map[string]v4l2.Device{
				"s5p-mfc-dec": &test.M2MDevice{
					SupportsNV12M: (ca == "direct"),
					Width:         1280,
					Height:        720,
				},
			}
			if ca == "converter" {
				devices["fimc"] = &test.M2MDevice{Converter: true}
			}

			s, _ := newSession(t, newConf(t), test.NilLogger, 1280, 720, devices)
			defer s.Close()

			err := s.Decode([][]byte{test.H264Stream(8)}, nil)
			require.NoError(t, err)
			require.Equal(t, ca == "converter", s.Stats().Converting)

			var values []byte

			for i := 0; i < 50 && len(values) < 7; i++ {
				err = s.Decode(nil, nil)
				require.NoError(t, err)
				collectPictures(t, s, &values)
			}

			require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, values)
		})
	}
}

func TestSessionParameterSetInjection(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 320, Height: 240}

	var lc logCollector

	s, _ := newSession(t, newConf(t), &lc, 320, 240, map[string]v4l2.Device{
		"s5p-mfc-dec": dec,
	})
	defer s.Close()

	frames := test.H264Frames(0, 6)

	for i := 0; i < 3; i++ {
		err := s.Decode([][]byte{frames[i]}, pictureInfo(1))
		require.NoError(t, err)
	}

	require.Equal(t, 1, lc.count("injecting parameter sets"))
	require.Equal(t, 1, lc.count("stream header processed, 6 decoder slots, no conversion"))

	err := s.Decode([][]byte{frames[3]}, pictureInfo(2))
	require.NoError(t, err)
	require.Equal(t, 2, lc.count("injecting parameter sets"))

	err = s.Decode([][]byte{frames[4]}, pictureInfo(2))
	require.NoError(t, err)
	require.Equal(t, 2, lc.count("injecting parameter sets"))

	// in-band parameter sets take precedence
	err = s.Decode([][]byte{test.H264Stream(1)}, pictureInfo(3))
	require.NoError(t, err)
	require.Equal(t, 2, lc.count("injecting parameter sets"))

	var values []byte
	collectPictures(t, s, &values)
	require.NotEmpty(t, values)
}

func TestSessionDump(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 320, Height: 240}

	var lc logCollector

	cnf := newConf(t)
	cnf.DumpBitstream = true
	cnf.RawDumpFile = filepath.Join(t.TempDir(), "dump.264")

	s, _ := newSession(t, cnf, &lc, 320, 240, map[string]v4l2.Device{
		"s5p-mfc-dec": dec,
	})

	frames := test.H264Frames(1, 2)
	buffers := [][]byte{test.H264Stream(1), frames[0], frames[1]}

	err := s.Decode(buffers, nil)
	require.NoError(t, err)

	s.Close()

	require.Equal(t, 1, lc.count("buffer 0, size 47: 000000016742c028d900780227e58400"))
	require.Equal(t, 1, lc.count("buffer 1, size 10: 00000001418884812" + "1a0"))

	byts, err := os.ReadFile(cnf.RawDumpFile)
	require.NoError(t, err)
	require.Equal(t, bytes.Join(buffers, nil), byts)
}

func TestSessionBufferFull(t *testing.T) {
	for _, ca := range []struct {
		name    string
		buffers [][]byte
	}{
		{
			"single",
			[][]byte{make([]byte, 2048)},
		},
		{
			"partial",
			[][]byte{make([]byte, 600), make([]byte, 600)},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			dec := &test.M2MDevice{SupportsNV12M: true, Width: 320, Height: 240}

			cnf := newConf(t)
			cnf.StreamBufferSize = 1024
			cnf.RingBufferSize = 1024
			cnf.RawDumpFile = filepath.Join(t.TempDir(), "dump.264")

			s, _ := newSession(t, cnf, test.NilLogger, 320, 240, map[string]v4l2.Device{
				"s5p-mfc-dec": dec,
			})

			err := s.Decode(ca.buffers, nil)
			require.True(t, errors.Is(err, framer.ErrBufferFull))
			require.Equal(t, 1024, s.Free())

			s.Close()

			byts, err := os.ReadFile(cnf.RawDumpFile)
			require.NoError(t, err)
			require.Empty(t, byts)
		})
	}
}

func TestSessionParameterSetsAfterBufferFull(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 320, Height: 240}

	var lc logCollector

	s, _ := newSession(t, newConf(t), &lc, 320, 240, map[string]v4l2.Device{
		"s5p-mfc-dec": dec,
	})
	defer s.Close()

	err := s.fr.Push(make([]byte, s.Free()-20))
	require.NoError(t, err)

	frames := test.H264Frames(0, 2)

	err = s.Decode(frames, pictureInfo(1))
	require.True(t, errors.Is(err, framer.ErrBufferFull))
	require.Equal(t, 0, lc.count("injecting parameter sets"))

	s.fr.Reset()

	err = s.Decode(frames, pictureInfo(1))
	require.NoError(t, err)
	require.Equal(t, 1, lc.count("injecting parameter sets"))

	header, err := (&h264.Synthesizer{
		Width:      320,
		Height:     240,
		ProfileIdc: defs.ProfileH264High.H264ProfileIdc(),
	}).ParameterSets(pictureInfo(1))
	require.NoError(t, err)

	require.Equal(t, 1, lc.count(fmt.Sprintf("queued header of size %s", bytefmt.ByteSize(uint64(len(header))))))
	require.Equal(t, 1, lc.count("stream header processed"))
}

func TestSessionFlush(t *testing.T) {
	dec := &test.M2MDevice{SupportsNV12M: true, Width: 320, Height: 240}

	s, _ := newSession(t, newConf(t), test.NilLogger, 320, 240, map[string]v4l2.Device{
		"s5p-mfc-dec": dec,
	})
	defer s.Close()

	require.Equal(t, 4*1024*1024, s.Free())

	err := s.Decode([][]byte{test.H264Stream(2)}, nil)
	require.NoError(t, err)

	var values []byte

	for i := 0; i < 5; i++ {
		err = s.Decode(nil, nil)
		require.NoError(t, err)
		collectPictures(t, s, &values)
	}

	require.Equal(t, []byte{1}, values)

	s.Flush()

	for i := 0; i < 5; i++ {
		err = s.Decode(nil, nil)
		require.NoError(t, err)
		collectPictures(t, s, &values)
	}

	require.Equal(t, []byte{1, 2}, values)
}
