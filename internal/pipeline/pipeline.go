// Package pipeline contains the buffer-queue orchestration of a hardware decoder
// and of an optional color converter.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/bluenviron/hwdecode/internal/defs"
	"github.com/bluenviron/hwdecode/internal/logger"
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

const (
	defaultStreamBufferSize    = 1024 * 1024
	defaultInputBuffers        = 2
	defaultCaptureExtraBuffers = 1
	defaultConverterBuffers    = 3
	defaultPollTimeout         = 1 * time.Second
	defaultHeaderRetryInterval = 10 * time.Millisecond
	defaultHeaderRetries       = 100
)

// errors.
var (
	// ErrNotReady is returned when the device has not released a buffer yet.
	ErrNotReady = errors.New("device is busy")

	// ErrProtocol is returned when the device does not behave as expected.
	// It is fatal.
	ErrProtocol = errors.New("device protocol error")

	// ErrDecode is returned when a buffer exchange fails during decoding.
	ErrDecode = errors.New("decode error")
)

// Source is a source of access units.
type Source interface {
	ExtractHead(out []byte) (int, error)
	Extract(out []byte) (int, error)
}

// Stats are the pipeline statistics.
type Stats struct {
	Input            PoolStats
	Capture          PoolStats
	ConverterInput   PoolStats
	ConverterCapture PoolStats
	Converting       bool
}

// Pipeline feeds access units into a decoder and retrieves decoded pictures,
// optionally passing them through a converter.
type Pipeline struct {
	Decoder             v4l2.Device
	Converter           v4l2.Device
	Profile             defs.Profile
	Width               int
	Height              int
	StreamBufferSize    int
	InputBuffers        int
	CaptureExtraBuffers int
	ConverterBuffers    int
	PollTimeout         time.Duration
	HeaderRetryInterval time.Duration
	HeaderRetries       int
	Parent              logger.Writer

	input            *pool
	capture          *pool
	converterInput   *pool
	converterCapture *pool
	needConvert      bool
	headerProcessed  bool
	crop             v4l2.Rect
	outputFormat     v4l2.Format
}

// Initialize initializes Pipeline.
// It configures the decoder input and allocates input slots.
func (p *Pipeline) Initialize() error {
	if p.StreamBufferSize == 0 {
		p.StreamBufferSize = defaultStreamBufferSize
	}
	if p.InputBuffers == 0 {
		p.InputBuffers = defaultInputBuffers
	}
	if p.CaptureExtraBuffers == 0 {
		p.CaptureExtraBuffers = defaultCaptureExtraBuffers
	}
	if p.ConverterBuffers == 0 {
		p.ConverterBuffers = defaultConverterBuffers
	}
	if p.PollTimeout == 0 {
		p.PollTimeout = defaultPollTimeout
	}
	if p.HeaderRetryInterval == 0 {
		p.HeaderRetryInterval = defaultHeaderRetryInterval
	}
	if p.HeaderRetries == 0 {
		p.HeaderRetries = defaultHeaderRetries
	}

	f := v4l2.Format{
		Type:        v4l2.BufTypeOutput,
		PixelFormat: v4l2.CodedFormat(p.Profile),
		NumPlanes:   1,
	}
	f.Planes[0].SizeImage = uint32(p.StreamBufferSize)

	err := p.Decoder.SetFormat(&f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	err = p.Decoder.GetFormat(&f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	p.Log(logger.Debug, "input format is %v, buffer size %s",
		f.PixelFormat, bytefmt.ByteSize(uint64(f.Planes[0].SizeImage)))

	p.input = &pool{
		dev:    p.Decoder,
		typ:    v4l2.BufTypeOutput,
		memory: v4l2.MemoryMMAP,
	}

	err = p.input.request(p.InputBuffers)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	err = p.input.mapAll()
	if err != nil {
		p.input.close() //nolint:errcheck
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	p.Log(logger.Debug, "allocated %d input slots", len(p.input.slots))

	return nil
}

// Close releases all buffers and closes devices.
func (p *Pipeline) Close() {
	for _, pl := range []*pool{p.converterCapture, p.converterInput, p.capture, p.input} {
		if pl == nil {
			continue
		}

		err := pl.close()
		if err != nil {
			p.Log(logger.Warn, "unable to release %v buffers: %v", pl.typ, err)
		}
	}

	if p.Converter != nil {
		p.Converter.Close() //nolint:errcheck
	}
	p.Decoder.Close() //nolint:errcheck
}

// Log implements logger.Writer.
func (p *Pipeline) Log(level logger.Level, format string, args ...any) {
	p.Parent.Log(level, format, args...)
}

// HeaderProcessed returns whether the stream header has been handed to the decoder.
func (p *Pipeline) HeaderProcessed() bool {
	return p.headerProcessed
}

// Stats returns the pipeline statistics.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Input:      p.input.stats(),
		Converting: p.needConvert,
	}

	if p.capture != nil {
		st.Capture = p.capture.stats()
	}
	if p.converterInput != nil {
		st.ConverterInput = p.converterInput.stats()
	}
	if p.converterCapture != nil {
		st.ConverterCapture = p.converterCapture.stats()
	}

	return st
}

// ProcessHeader hands the stream header to the decoder and sets up
// the decoder output and the converter.
// It returns false when the source does not contain a complete header yet.
func (p *Pipeline) ProcessHeader(src Source) (bool, error) {
	if p.headerProcessed {
		return true, nil
	}

	slot := p.input.slots[0]

	n, err := src.ExtractHead(slot.Planes[0].Data)
	if err != nil {
		return false, err
	}

	if n == 0 {
		return false, nil
	}

	slot.Planes[0].BytesUsed = uint32(n)

	err = p.input.queue(slot)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	p.Log(logger.Debug, "queued header of size %s", bytefmt.ByteSize(uint64(n)))

	err = p.input.streamOn()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	err = p.setupCapture()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	if p.needConvert {
		err = p.setupConverter()
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
	}

	err = p.dequeueHeader()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	p.headerProcessed = true
	return true, nil
}

func (p *Pipeline) listFormats() {
	descs, err := p.Decoder.EnumFormats(v4l2.BufTypeCapture)
	if err != nil {
		p.Log(logger.Debug, "unable to list decoder output formats: %v", err)
		return
	}

	for _, desc := range descs {
		p.Log(logger.Debug, "decoder output format %d: %v (%s)", desc.Index, desc.PixelFormat, desc.Description)
	}
}

func (p *Pipeline) setupCapture() error {
	p.listFormats()

	f := v4l2.Format{
		Type:        v4l2.BufTypeCapture,
		PixelFormat: v4l2.PixFmtNV12M,
	}

	if p.Decoder.TryFormat(&f) != nil {
		p.needConvert = true
		p.Log(logger.Debug, "decoder does not produce untiled pictures, conversion is needed")

		if p.Converter == nil {
			return fmt.Errorf("conversion is needed but no converter is available")
		}
	} else {
		p.Log(logger.Debug, "decoder produces untiled pictures, no conversion is needed")

		err := p.Decoder.SetFormat(&f)
		if err != nil {
			return err
		}
	}

	f = v4l2.Format{Type: v4l2.BufTypeCapture}
	err := p.Decoder.GetFormat(&f)
	if err != nil {
		return err
	}

	p.Log(logger.Debug, "decoder output is %dx%d %v, planes %d",
		f.Width, f.Height, f.PixelFormat, f.NumPlanes)

	if p.needConvert {
		cf := v4l2.Format{
			Type:        v4l2.BufTypeOutput,
			Width:       f.Width,
			Height:      f.Height,
			PixelFormat: v4l2.PixFmtNV12MT,
			Field:       v4l2.FieldAny,
			NumPlanes:   v4l2.MaxPlanes,
		}

		err = p.Converter.SetFormat(&cf)
		if err != nil {
			return err
		}
	} else {
		p.outputFormat = f
	}

	minBuffers, err := p.Decoder.GetControl(v4l2.CIDMinBuffersForCapture)
	if err != nil {
		return err
	}

	count := int(minBuffers) + max(int(minBuffers)/2, p.CaptureExtraBuffers)

	crop := v4l2.Crop{Type: v4l2.BufTypeCapture}
	err = p.Decoder.GetCrop(&crop)
	if err != nil {
		return err
	}
	p.crop = crop.Rect

	p.Log(logger.Debug, "decoder crop is %dx%d+%d+%d",
		crop.Rect.Width, crop.Rect.Height, crop.Rect.Left, crop.Rect.Top)

	if p.needConvert {
		crop.Type = v4l2.BufTypeOutput
		err = p.Converter.SetCrop(&crop)
		if err != nil {
			return err
		}
	}

	p.capture = &pool{
		dev:    p.Decoder,
		typ:    v4l2.BufTypeCapture,
		memory: v4l2.MemoryMMAP,
	}

	err = p.capture.request(count)
	if err != nil {
		return err
	}

	err = p.capture.mapAll()
	if err != nil {
		return err
	}

	for _, s := range p.capture.slots {
		for j := range s.Planes {
			s.Planes[j].BytesUsed = f.Planes[j].SizeImage
		}

		err = p.capture.queue(s)
		if err != nil {
			return err
		}
	}

	p.Log(logger.Debug, "allocated and queued %d decoder output slots", len(p.capture.slots))

	return p.capture.streamOn()
}

func (p *Pipeline) setupConverter() error {
	p.converterInput = &pool{
		dev:    p.Converter,
		typ:    v4l2.BufTypeOutput,
		memory: v4l2.MemoryUserPtr,
	}

	err := p.converterInput.request(len(p.capture.slots))
	if err != nil {
		return err
	}

	if len(p.converterInput.slots) != len(p.capture.slots) {
		return fmt.Errorf("converter allocated %d input slots instead of %d",
			len(p.converterInput.slots), len(p.capture.slots))
	}

	for _, s := range p.capture.slots {
		err = p.converterInput.attach(s.Index, s)
		if err != nil {
			return err
		}
	}

	f := v4l2.Format{
		Type:        v4l2.BufTypeCapture,
		Width:       uint32(p.Width),
		Height:      uint32(p.Height),
		PixelFormat: v4l2.PixFmtYUV420M,
		Field:       v4l2.FieldAny,
		NumPlanes:   v4l2.MaxPlanes,
	}

	err = p.Converter.SetFormat(&f)
	if err != nil {
		return err
	}

	err = p.Converter.SetCrop(&v4l2.Crop{
		Type: v4l2.BufTypeCapture,
		Rect: v4l2.Rect{Width: uint32(p.Width), Height: uint32(p.Height)},
	})
	if err != nil {
		return err
	}

	f = v4l2.Format{Type: v4l2.BufTypeCapture}
	err = p.Converter.GetFormat(&f)
	if err != nil {
		return err
	}
	p.outputFormat = f

	p.converterCapture = &pool{
		dev:    p.Converter,
		typ:    v4l2.BufTypeCapture,
		memory: v4l2.MemoryMMAP,
	}

	err = p.converterCapture.request(p.ConverterBuffers)
	if err != nil {
		return err
	}

	err = p.converterCapture.mapAll()
	if err != nil {
		return err
	}

	for _, s := range p.converterCapture.slots {
		for j := range s.Planes {
			s.Planes[j].BytesUsed = f.Planes[j].SizeImage
		}

		err = p.converterCapture.queue(s)
		if err != nil {
			return err
		}
	}

	p.Log(logger.Debug, "allocated and queued %d converter output slots, format %dx%d %v",
		len(p.converterCapture.slots), f.Width, f.Height, f.PixelFormat)

	err = p.converterInput.streamOn()
	if err != nil {
		return err
	}

	return p.converterCapture.streamOn()
}

func (p *Pipeline) dequeueHeader() error {
	for i := 0; ; i++ {
		s, err := p.input.dequeue()
		if err == nil {
			p.input.release(s)
			p.Log(logger.Debug, "header consumed by the decoder")
			return nil
		}

		if !errors.Is(err, v4l2.ErrNotReady) {
			return err
		}

		if i >= p.HeaderRetries {
			return fmt.Errorf("decoder did not consume the header after %d attempts", i+1)
		}

		time.Sleep(p.HeaderRetryInterval)
	}
}

func (p *Pipeline) freeInputSlot() (*Slot, error) {
	if s := p.input.firstFree(); s != nil {
		return s, nil
	}

	ev, err := p.Decoder.Poll(p.PollTimeout)
	if err != nil {
		return nil, err
	}

	if !ev.OutputReady {
		return nil, ErrNotReady
	}

	s, err := p.input.dequeue()
	if err != nil {
		if errors.Is(err, v4l2.ErrNotReady) {
			return nil, ErrNotReady
		}
		return nil, err
	}

	p.input.release(s)
	return s, nil
}

// Feed moves one access unit from the source into the decoder.
// When a converter is in use, it also moves a decoded picture into the converter
// and gives back a converted slot to the decoder.
func (p *Pipeline) Feed(src Source) error {
	if !p.headerProcessed {
		return fmt.Errorf("%w: header has not been processed yet", ErrProtocol)
	}

	err := p.requeue()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	s, err := p.freeInputSlot()
	if err != nil {
		if !errors.Is(err, ErrNotReady) {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
		p.Log(logger.Debug, "all input slots are busy")
	} else {
		err = p.feedSlot(src, s)
		if err != nil {
			return err
		}
	}

	if p.needConvert {
		err = p.convert()
		if err != nil {
			return err
		}
	}

	if s == nil {
		return ErrNotReady
	}
	return nil
}

// requeue gives back to the devices the picture slots that could not be queued.
// Decoded pictures that could not be passed to the converter are dropped.
func (p *Pipeline) requeue() error {
	pools := []*pool{p.capture}

	if p.needConvert {
		for _, s := range p.capture.slots {
			if s.State == SlotDone && p.converterInput.slots[s.Index].State == SlotFree {
				p.Log(logger.Debug, "dropping picture in slot %d, it could not be converted", s.Index)
				p.capture.release(s)
			}
		}
		pools = append(pools, p.converterCapture)
	}

	for _, pl := range pools {
		for _, s := range pl.slots {
			if s.State != SlotFree {
				continue
			}

			for j := range s.Planes {
				s.Planes[j].BytesUsed = s.Planes[j].Length
			}

			err := pl.queue(s)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Pipeline) feedSlot(src Source, s *Slot) error {
	n, err := src.Extract(s.Planes[0].Data)
	if err != nil {
		return err
	}

	if n == 0 {
		return nil
	}

	s.Planes[0].BytesUsed = uint32(n)

	err = p.input.queue(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}

func (p *Pipeline) convert() error {
	s, err := p.capture.dequeue()
	switch {
	case err == nil:
		cs := p.converterInput.slots[s.Index]
		for j := range cs.Planes {
			cs.Planes[j].BytesUsed = s.Planes[j].BytesUsed
		}

		err = p.converterInput.queue(cs)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}

	case !errors.Is(err, v4l2.ErrNotReady):
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	cs, err := p.converterInput.dequeue()
	switch {
	case err == nil:
		p.converterInput.release(cs)

		s = p.capture.slots[cs.Index]
		p.capture.release(s)

		err = p.capture.queue(s)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}

	case !errors.Is(err, v4l2.ErrNotReady):
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}

// GetPicture retrieves a decoded picture, if available, and passes it to the presenter.
// It never blocks. It returns false when no picture is ready.
func (p *Pipeline) GetPicture(pr Presenter) (bool, error) {
	if !p.headerProcessed {
		return false, nil
	}

	pl := p.capture
	width := p.crop.Width
	height := p.crop.Height

	if p.needConvert {
		pl = p.converterCapture
		width = uint32(p.Width)
		height = uint32(p.Height)
	}

	s, err := pl.dequeue()
	if err != nil {
		if errors.Is(err, v4l2.ErrNotReady) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	pic := &Picture{
		Width:  int(width),
		Height: int(height),
		Format: p.outputFormat.PixelFormat,
		Planes: make([]Plane, len(s.Planes)),
	}

	for j, sp := range s.Planes {
		pic.Planes[j] = Plane{
			Data:   sp.Data[:sp.BytesUsed],
			Stride: int(p.outputFormat.Planes[j].BytesPerLine),
		}
	}

	presentErr := pr.Present(pic)

	pl.release(s)
	for j := range s.Planes {
		s.Planes[j].BytesUsed = s.Planes[j].Length
	}

	err = pl.queue(s)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if presentErr != nil {
		return false, presentErr
	}

	return true, nil
}
