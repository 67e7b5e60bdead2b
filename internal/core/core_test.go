package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/hwdecode/internal/pipeline"
	"github.com/bluenviron/hwdecode/internal/test"
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

func finder(dec v4l2.Device, conv v4l2.Device) func(keywords ...string) (v4l2.Device, string, error) {
	return func(keywords ...string) (v4l2.Device, string, error) {
		switch {
		case keywords[0] == "s5p-mfc-dec" && dec != nil:
			return dec, "/dev/video6", nil

		case keywords[0] == "fimc" && conv != nil:
			return conv, "/dev/video4", nil
		}
		return nil, "", fmt.Errorf("not found")
	}
}

func writeConf(t *testing.T, dir string) (string, string) {
	logPath := filepath.Join(dir, "hwdecode.log")
	confPath := filepath.Join(dir, "hwdecode.yml")

	err := os.WriteFile(confPath, []byte(
		"logLevel: debug\n"+
			"logDestinations: [file]\n"+
			"logFile: "+logPath+"\n"), 0o644)
	require.NoError(t, err)

	return confPath, logPath
}

func TestCoreDecode(t *testing.T) {
	for _, ca := range []string{
		"direct",
		"converter",
	} {
		t.Run(ca, func(t *testing.T) {
			dir := t.TempDir()
			confPath, logPath := writeConf(t, dir)

			inPath := filepath.Join(dir, "input.h264")
			err := os.WriteFile(inPath, test.H264Stream(10), 0o644)
			require.NoError(t, err)

			outPath := filepath.Join(dir, "output.yuv")

			dec := &test.M2MDevice{
				SupportsNV12M: (ca == "direct"),
				Width:         1920,
				Height:        1080,
			}
			var conv v4l2.Device
			if ca == "converter" {
				conv = &test.M2MDevice{Converter: true}
			}

			p, ok := newCore([]string{"--conf", confPath, "--output", outPath, inPath}, finder(dec, conv))
			require.True(t, ok)

			err = p.Wait()
			require.NoError(t, err)

			require.True(t, dec.Closed())

			out, err := os.ReadFile(outPath)
			require.NoError(t, err)

			pictureSize := 1920 * 1080 * 3 / 2
			require.Len(t, out, 10*pictureSize)

			for i := 0; i < 10; i++ {
				require.Equal(t, byte(i+1), out[i*pictureSize])
			}

			logs, err := os.ReadFile(logPath)
			require.NoError(t, err)
			require.Contains(t, string(logs), "10 pictures decoded")
		})
	}
}

func TestCoreSizeOverride(t *testing.T) {
	dir := t.TempDir()
	confPath, _ := writeConf(t, dir)

	inPath := filepath.Join(dir, "input.bin")
	err := os.WriteFile(inPath, test.H264Stream(3), 0o644)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "output.yuv")

	dec := &test.M2MDevice{
		SupportsNV12M: true,
		Width:         640,
		Height:        480,
	}

	p, ok := newCore([]string{
		"--conf", confPath,
		"--profile", "h264-main",
		"--width", "640",
		"--height", "480",
		"--output", outPath,
		inPath,
	}, finder(dec, nil))
	require.True(t, ok)

	err = p.Wait()
	require.NoError(t, err)

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Len(t, out, 3*640*480*3/2)
}

func TestCoreErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		file string
		data []byte
		args []string
		err  string
	}{
		{
			"unknown profile",
			"input.bin",
			test.H264Stream(2),
			nil,
			"unable to guess the profile of the input, use --profile",
		},
		{
			"invalid profile",
			"input.bin",
			test.H264Stream(2),
			[]string{"--profile", "vp9"},
			"invalid profile: 'vp9'",
		},
		{
			"missing size",
			"input.m4v",
			[]byte{0x00, 0x00, 0x01, 0xb0, 0x01, 0x00, 0x00, 0x01, 0xb6, 0x10},
			nil,
			"unable to find the picture size in the input, use --width and --height",
		},
		{
			"empty",
			"input.h264",
			[]byte{},
			nil,
			"input is empty",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			dir := t.TempDir()
			confPath, _ := writeConf(t, dir)

			inPath := filepath.Join(dir, ca.file)
			err := os.WriteFile(inPath, ca.data, 0o644)
			require.NoError(t, err)

			args := append([]string{"--conf", confPath}, ca.args...)
			args = append(args, inPath)

			p, ok := newCore(args, finder(nil, nil))
			require.True(t, ok)

			err = p.Wait()
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestCoreMissingInput(t *testing.T) {
	_, ok := newCore([]string{}, nil)
	require.False(t, ok)

	_, ok = newCore([]string{filepath.Join(t.TempDir(), "nonexisting.h264")}, nil)
	require.False(t, ok)
}

func TestYUVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newYUVWriter(&buf)

	err := w.Present(&pipeline.Picture{
		Width:  4,
		Height: 2,
		Format: v4l2.PixFmtYUV420M,
		Planes: []pipeline.Plane{
			{Data: []byte{1, 1, 1, 1, 0, 0, 2, 2, 2, 2, 0, 0}, Stride: 6},
			{Data: []byte{3, 3, 0, 0}, Stride: 4},
			{Data: []byte{4, 4, 0, 0}, Stride: 4},
		},
	})
	require.NoError(t, err)

	err = w.flush()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 4, 4}, buf.Bytes())

	err = w.Present(&pipeline.Picture{
		Width:  4,
		Height: 2,
		Format: v4l2.PixFmtNV12MT,
		Planes: []pipeline.Plane{{Data: make([]byte, 8), Stride: 4}},
	})
	require.Error(t, err)

	err = w.Present(&pipeline.Picture{
		Width:  4,
		Height: 2,
		Format: v4l2.PixFmtNV12M,
		Planes: []pipeline.Plane{
			{Data: make([]byte, 6), Stride: 4},
			{Data: make([]byte, 4), Stride: 4},
		},
	})
	require.EqualError(t, err, "plane 0 is too small")
}
