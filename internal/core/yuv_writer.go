package core

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bluenviron/hwdecode/internal/pipeline"
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

type planeSize struct {
	width  int
	height int
}

func planeSizes(pic *pipeline.Picture) ([]planeSize, error) {
	chromaW := (pic.Width + 1) / 2
	chromaH := (pic.Height + 1) / 2

	switch pic.Format {
	case v4l2.PixFmtNV12M:
		return []planeSize{
			{pic.Width, pic.Height},
			{chromaW * 2, chromaH},
		}, nil

	case v4l2.PixFmtYUV420M:
		return []planeSize{
			{pic.Width, pic.Height},
			{chromaW, chromaH},
			{chromaW, chromaH},
		}, nil
	}

	return nil, fmt.Errorf("unsupported pixel format: %v", pic.Format)
}

// yuvWriter writes pictures as raw planar YUV, without padding.
type yuvWriter struct {
	w     *bufio.Writer
	count uint64
}

func newYUVWriter(w io.Writer) *yuvWriter {
	return &yuvWriter{
		w: bufio.NewWriter(w),
	}
}

// Present implements pipeline.Presenter.
func (w *yuvWriter) Present(pic *pipeline.Picture) error {
	sizes, err := planeSizes(pic)
	if err != nil {
		return err
	}

	if len(pic.Planes) != len(sizes) {
		return fmt.Errorf("picture has %d planes, %d expected", len(pic.Planes), len(sizes))
	}

	for i, size := range sizes {
		pl := pic.Planes[i]

		if pl.Stride < size.width || len(pl.Data) < (size.height-1)*pl.Stride+size.width {
			return fmt.Errorf("plane %d is too small", i)
		}

		for y := 0; y < size.height; y++ {
			_, err = w.w.Write(pl.Data[y*pl.Stride : y*pl.Stride+size.width])
			if err != nil {
				return err
			}
		}
	}

	w.count++
	return nil
}

func (w *yuvWriter) flush() error {
	return w.w.Flush()
}
