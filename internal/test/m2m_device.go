package test

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/bluenviron/hwdecode/internal/v4l2"
)

var errInvalid = errors.New("invalid argument")

const (
	defaultCodedBufferSize = 1024 * 1024
	pageSize               = 4096
)

type m2mBufferState int

const (
	m2mBufferDequeued m2mBufferState = iota
	m2mBufferQueued
	m2mBufferDone
)

type m2mBuffer struct {
	state     m2mBufferState
	planes    [][]byte
	offsets   []uint32
	lengths   []uint32
	bytesUsed []uint32
}

type m2mQueue struct {
	typ       v4l2.BufType
	memory    v4l2.Memory
	format    *v4l2.Format
	buffers   []*m2mBuffer
	queued    []uint32
	done      []uint32
	streaming bool
}

func pop(list *[]uint32) uint32 {
	i := (*list)[0]
	*list = (*list)[1:]
	return i
}

func align(v uint32, a uint32) uint32 {
	return (v + a - 1) / a * a
}

func planeFormats(f *v4l2.Format) {
	w := f.Width
	h := f.Height

	switch f.PixelFormat {
	case v4l2.PixFmtNV12MT:
		f.NumPlanes = 2
		f.Planes[0] = v4l2.PlaneFormat{SizeImage: align(w, 128) * align(h, 32), BytesPerLine: align(w, 128)}
		f.Planes[1] = v4l2.PlaneFormat{SizeImage: align(w, 128) * align(h/2, 32), BytesPerLine: align(w, 128)}

	case v4l2.PixFmtNV12M:
		f.NumPlanes = 2
		f.Planes[0] = v4l2.PlaneFormat{SizeImage: w * h, BytesPerLine: w}
		f.Planes[1] = v4l2.PlaneFormat{SizeImage: w * h / 2, BytesPerLine: w}

	case v4l2.PixFmtYUV420M:
		f.NumPlanes = 3
		f.Planes[0] = v4l2.PlaneFormat{SizeImage: w * h, BytesPerLine: w}
		f.Planes[1] = v4l2.PlaneFormat{SizeImage: w * h / 4, BytesPerLine: w / 2}
		f.Planes[2] = v4l2.PlaneFormat{SizeImage: w * h / 4, BytesPerLine: w / 2}
	}
}

// M2MDevice is a simulated memory-to-memory device.
// It behaves either as a video decoder or as a color converter.
// Buffers are processed synchronously, when the device is polled or dequeued.
type M2MDevice struct {
	// driver name.
	Driver string

	// whether the device is a converter.
	Converter bool

	// whether the decoder is able to produce untiled pictures.
	SupportsNV12M bool

	// minimum number of capture buffers required by the decoder.
	MinBuffers int32

	// visible size of decoded pictures.
	Width  uint32
	Height uint32

	// probability that a dequeue reports a buffer as not ready
	// even if one is available.
	NotReadyRate float64

	// random generator used with NotReadyRate.
	Rand *rand.Rand

	// error returned by the next QueueBuffer call.
	QueueError error

	mutex        sync.Mutex
	initialized  bool
	queues       map[v4l2.BufType]*m2mQueue
	crops        map[v4l2.BufType]v4l2.Rect
	headerParsed bool
	pending      int
	pictures     int
	mapped       int
	closed       bool
}

func (d *M2MDevice) initialize() {
	if d.initialized {
		return
	}
	d.initialized = true

	if d.Driver == "" {
		if d.Converter {
			d.Driver = "fimc.0.m2m"
		} else {
			d.Driver = "s5p-mfc-dec"
		}
	}
	if d.MinBuffers == 0 {
		d.MinBuffers = 4
	}

	d.queues = map[v4l2.BufType]*m2mQueue{
		v4l2.BufTypeOutput:  {typ: v4l2.BufTypeOutput},
		v4l2.BufTypeCapture: {typ: v4l2.BufTypeCapture},
	}
	d.crops = make(map[v4l2.BufType]v4l2.Rect)
}

func (d *M2MDevice) queue(typ v4l2.BufType) (*m2mQueue, error) {
	q, ok := d.queues[typ]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported queue %v", errInvalid, typ)
	}
	return q, nil
}

func (d *M2MDevice) codedWidth() uint32 {
	return align(d.Width, 16)
}

func (d *M2MDevice) codedHeight() uint32 {
	return align(d.Height, 16)
}

func (d *M2MDevice) acceptsFormat(f *v4l2.Format) bool {
	switch {
	case !d.Converter && f.Type == v4l2.BufTypeOutput:
		return f.PixelFormat == v4l2.PixFmtH264 || f.PixelFormat == v4l2.PixFmtMPEG4 ||
			f.PixelFormat == v4l2.PixFmtMPEG2 || f.PixelFormat == v4l2.PixFmtMPEG1

	case !d.Converter && f.Type == v4l2.BufTypeCapture:
		return f.PixelFormat == v4l2.PixFmtNV12MT ||
			(f.PixelFormat == v4l2.PixFmtNV12M && d.SupportsNV12M)

	case d.Converter && f.Type == v4l2.BufTypeOutput:
		return f.PixelFormat == v4l2.PixFmtNV12MT || f.PixelFormat == v4l2.PixFmtNV12M
	}

	return f.PixelFormat == v4l2.PixFmtYUV420M || f.PixelFormat == v4l2.PixFmtNV12M
}

// QueryCapability implements v4l2.Device.
func (d *M2MDevice) QueryCapability() (*v4l2.Capability, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	return &v4l2.Capability{
		Driver:       d.Driver,
		Card:         d.Driver,
		BusInfo:      "platform:" + d.Driver,
		Capabilities: v4l2.CapVideoM2MMPlane | v4l2.CapStreaming,
	}, nil
}

// SetFormat implements v4l2.Device.
func (d *M2MDevice) SetFormat(f *v4l2.Format) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q, err := d.queue(f.Type)
	if err != nil {
		return err
	}

	if !d.acceptsFormat(f) {
		return fmt.Errorf("%w: format %v not supported on %v queue", errInvalid, f.PixelFormat, f.Type)
	}

	if q.buffers != nil {
		return fmt.Errorf("%w: buffers are allocated", errInvalid)
	}

	nf := *f

	switch {
	case !d.Converter && f.Type == v4l2.BufTypeOutput:
		nf.NumPlanes = 1
		if nf.Planes[0].SizeImage == 0 {
			nf.Planes[0].SizeImage = defaultCodedBufferSize
		}

	case !d.Converter && f.Type == v4l2.BufTypeCapture:
		nf.Width = d.codedWidth()
		nf.Height = d.codedHeight()
		planeFormats(&nf)

	default:
		if nf.Width == 0 || nf.Height == 0 {
			return fmt.Errorf("%w: invalid size", errInvalid)
		}
		planeFormats(&nf)
	}

	q.format = &nf
	*f = nf

	return nil
}

// GetFormat implements v4l2.Device.
func (d *M2MDevice) GetFormat(f *v4l2.Format) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q, err := d.queue(f.Type)
	if err != nil {
		return err
	}

	if !d.Converter && f.Type == v4l2.BufTypeCapture {
		d.process()

		if !d.headerParsed {
			return fmt.Errorf("%w: stream header not parsed yet", errInvalid)
		}

		if q.format == nil {
			nf := v4l2.Format{
				Type:        v4l2.BufTypeCapture,
				Width:       d.codedWidth(),
				Height:      d.codedHeight(),
				PixelFormat: v4l2.PixFmtNV12MT,
			}
			planeFormats(&nf)
			q.format = &nf
		}
	}

	if q.format == nil {
		return fmt.Errorf("%w: format not set", errInvalid)
	}

	*f = *q.format
	return nil
}

// TryFormat implements v4l2.Device.
func (d *M2MDevice) TryFormat(f *v4l2.Format) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	if _, err := d.queue(f.Type); err != nil {
		return err
	}

	if !d.acceptsFormat(f) {
		return fmt.Errorf("%w: format %v not supported on %v queue", errInvalid, f.PixelFormat, f.Type)
	}

	return nil
}

// EnumFormats implements v4l2.Device.
func (d *M2MDevice) EnumFormats(typ v4l2.BufType) ([]v4l2.FormatDesc, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	var candidates []v4l2.FourCC

	switch {
	case !d.Converter && typ == v4l2.BufTypeOutput:
		candidates = []v4l2.FourCC{v4l2.PixFmtH264, v4l2.PixFmtMPEG4, v4l2.PixFmtMPEG2, v4l2.PixFmtMPEG1}

	case !d.Converter:
		candidates = []v4l2.FourCC{v4l2.PixFmtNV12MT, v4l2.PixFmtNV12M}

	case typ == v4l2.BufTypeOutput:
		candidates = []v4l2.FourCC{v4l2.PixFmtNV12MT, v4l2.PixFmtNV12M}

	default:
		candidates = []v4l2.FourCC{v4l2.PixFmtYUV420M, v4l2.PixFmtNV12M}
	}

	var ret []v4l2.FormatDesc
	for _, c := range candidates {
		if !d.acceptsFormat(&v4l2.Format{Type: typ, PixelFormat: c}) {
			continue
		}
		ret = append(ret, v4l2.FormatDesc{
			Index:       uint32(len(ret)),
			Description: c.String(),
			PixelFormat: c,
		})
	}

	return ret, nil
}

func (d *M2MDevice) offset(typ v4l2.BufType, index int, plane int) uint32 {
	base := uint32(0)
	if typ == v4l2.BufTypeCapture {
		base = 1 << 30
	}
	return base + uint32(index*v4l2.MaxPlanes+plane)*pageSize
}

// RequestBuffers implements v4l2.Device.
func (d *M2MDevice) RequestBuffers(typ v4l2.BufType, mem v4l2.Memory, count uint32) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q, err := d.queue(typ)
	if err != nil {
		return 0, err
	}

	if q.streaming {
		return 0, fmt.Errorf("%w: queue is streaming", errInvalid)
	}

	if count == 0 {
		q.buffers = nil
		q.queued = nil
		q.done = nil
		return 0, nil
	}

	if q.format == nil {
		return 0, fmt.Errorf("%w: format not set", errInvalid)
	}

	if !d.Converter && typ == v4l2.BufTypeCapture && count < uint32(d.MinBuffers) {
		count = uint32(d.MinBuffers)
	}

	q.memory = mem
	q.buffers = make([]*m2mBuffer, count)
	q.queued = nil
	q.done = nil

	for i := range q.buffers {
		b := &m2mBuffer{
			planes:    make([][]byte, q.format.NumPlanes),
			offsets:   make([]uint32, q.format.NumPlanes),
			lengths:   make([]uint32, q.format.NumPlanes),
			bytesUsed: make([]uint32, q.format.NumPlanes),
		}

		for j := 0; j < int(q.format.NumPlanes); j++ {
			b.lengths[j] = q.format.Planes[j].SizeImage
			if mem == v4l2.MemoryMMAP {
				b.planes[j] = make([]byte, b.lengths[j])
				b.offsets[j] = d.offset(typ, i, j)
			}
		}

		q.buffers[i] = b
	}

	return count, nil
}

func (d *M2MDevice) buffer(b *v4l2.Buffer) (*m2mQueue, *m2mBuffer, error) {
	q, err := d.queue(b.Type)
	if err != nil {
		return nil, nil, err
	}

	if int(b.Index) >= len(q.buffers) {
		return nil, nil, fmt.Errorf("%w: buffer index %d out of range", errInvalid, b.Index)
	}

	if b.Memory != q.memory {
		return nil, nil, fmt.Errorf("%w: wrong memory type", errInvalid)
	}

	return q, q.buffers[b.Index], nil
}

func fillBuffer(b *v4l2.Buffer, mb *m2mBuffer) {
	b.NumPlanes = len(mb.lengths)
	for j := range mb.lengths {
		b.Planes[j].Length = mb.lengths[j]
		b.Planes[j].BytesUsed = mb.bytesUsed[j]
		b.Planes[j].MemOffset = mb.offsets[j]
	}
}

// QueryBuffer implements v4l2.Device.
func (d *M2MDevice) QueryBuffer(b *v4l2.Buffer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	_, mb, err := d.buffer(b)
	if err != nil {
		return err
	}

	fillBuffer(b, mb)
	return nil
}

// Map implements v4l2.Device.
func (d *M2MDevice) Map(offset uint32, length uint32) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	for _, q := range d.queues {
		for _, mb := range q.buffers {
			for j, o := range mb.offsets {
				if mb.planes[j] != nil && o == offset {
					if length > uint32(len(mb.planes[j])) {
						return nil, fmt.Errorf("%w: length exceeds plane size", errInvalid)
					}
					d.mapped++
					return mb.planes[j][:length], nil
				}
			}
		}
	}

	return nil, fmt.Errorf("%w: offset %d not found", errInvalid, offset)
}

// Unmap implements v4l2.Device.
func (d *M2MDevice) Unmap(_ []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.mapped == 0 {
		return fmt.Errorf("%w: nothing is mapped", errInvalid)
	}
	d.mapped--
	return nil
}

// QueueBuffer implements v4l2.Device.
func (d *M2MDevice) QueueBuffer(b *v4l2.Buffer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	if d.QueueError != nil {
		err := d.QueueError
		d.QueueError = nil
		return err
	}

	q, mb, err := d.buffer(b)
	if err != nil {
		return err
	}

	if mb.state != m2mBufferDequeued {
		return fmt.Errorf("%w: buffer %d of %v queue is already queued", errInvalid, b.Index, b.Type)
	}

	if b.NumPlanes != len(mb.lengths) {
		return fmt.Errorf("%w: wrong plane count", errInvalid)
	}

	for j := range mb.lengths {
		if b.Planes[j].BytesUsed > mb.lengths[j] {
			return fmt.Errorf("%w: plane %d overflows", errInvalid, j)
		}

		if q.memory == v4l2.MemoryUserPtr {
			if uint32(len(b.Planes[j].UserPtr)) < mb.lengths[j] {
				return fmt.Errorf("%w: user pointer of plane %d is too small", errInvalid, j)
			}
			mb.planes[j] = b.Planes[j].UserPtr
		}

		mb.bytesUsed[j] = b.Planes[j].BytesUsed
	}

	mb.state = m2mBufferQueued
	q.queued = append(q.queued, b.Index)

	return nil
}

func (d *M2MDevice) process() {
	out := d.queues[v4l2.BufTypeOutput]
	capt := d.queues[v4l2.BufTypeCapture]

	if d.Converter {
		for out.streaming && capt.streaming && len(out.queued) != 0 && len(capt.queued) != 0 {
			inIndex := pop(&out.queued)
			picIndex := pop(&capt.queued)
			in := out.buffers[inIndex]
			pic := capt.buffers[picIndex]

			for j := range pic.planes {
				for k := range pic.planes[j] {
					pic.planes[j][k] = in.planes[0][0]
				}
				pic.bytesUsed[j] = pic.lengths[j]
			}

			in.state = m2mBufferDone
			out.done = append(out.done, inIndex)
			pic.state = m2mBufferDone
			capt.done = append(capt.done, picIndex)
			d.pictures++
		}
		return
	}

	for out.streaming && len(out.queued) != 0 {
		inIndex := pop(&out.queued)

		if !d.headerParsed {
			d.headerParsed = true
		} else {
			d.pending++
		}

		out.buffers[inIndex].state = m2mBufferDone
		out.done = append(out.done, inIndex)
	}

	for capt.streaming && d.pending != 0 && len(capt.queued) != 0 {
		picIndex := pop(&capt.queued)
		pic := capt.buffers[picIndex]
		d.pending--
		d.pictures++

		for j := range pic.planes {
			for k := range pic.planes[j] {
				pic.planes[j][k] = byte(d.pictures)
			}
			pic.bytesUsed[j] = pic.lengths[j]
		}

		pic.state = m2mBufferDone
		capt.done = append(capt.done, picIndex)
	}
}

// DequeueBuffer implements v4l2.Device.
func (d *M2MDevice) DequeueBuffer(b *v4l2.Buffer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q, err := d.queue(b.Type)
	if err != nil {
		return err
	}

	if b.Memory != q.memory {
		return fmt.Errorf("%w: wrong memory type", errInvalid)
	}

	d.process()

	if d.NotReadyRate > 0 && d.Rand.Float64() < d.NotReadyRate {
		return v4l2.ErrNotReady
	}

	if len(q.done) == 0 {
		return v4l2.ErrNotReady
	}

	index := pop(&q.done)
	mb := q.buffers[index]
	mb.state = m2mBufferDequeued

	b.Index = index
	fillBuffer(b, mb)

	return nil
}

// StreamOn implements v4l2.Device.
func (d *M2MDevice) StreamOn(typ v4l2.BufType) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q, err := d.queue(typ)
	if err != nil {
		return err
	}

	if q.buffers == nil {
		return fmt.Errorf("%w: no buffers allocated on %v queue", errInvalid, typ)
	}

	q.streaming = true
	return nil
}

// StreamOff implements v4l2.Device.
func (d *M2MDevice) StreamOff(typ v4l2.BufType) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q, err := d.queue(typ)
	if err != nil {
		return err
	}

	q.streaming = false
	for _, mb := range q.buffers {
		mb.state = m2mBufferDequeued
	}
	q.queued = nil
	q.done = nil

	return nil
}

// Poll implements v4l2.Device.
func (d *M2MDevice) Poll(_ time.Duration) (v4l2.PollEvents, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	d.process()

	return v4l2.PollEvents{
		CaptureReady: len(d.queues[v4l2.BufTypeCapture].done) != 0,
		OutputReady:  len(d.queues[v4l2.BufTypeOutput].done) != 0,
	}, nil
}

// GetControl implements v4l2.Device.
func (d *M2MDevice) GetControl(id uint32) (int32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	if d.Converter || id != v4l2.CIDMinBuffersForCapture {
		return 0, fmt.Errorf("%w: unsupported control %d", errInvalid, id)
	}

	return d.MinBuffers, nil
}

// GetCrop implements v4l2.Device.
func (d *M2MDevice) GetCrop(c *v4l2.Crop) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	if !d.Converter {
		if c.Type != v4l2.BufTypeCapture || !d.headerParsed {
			return fmt.Errorf("%w: crop not available", errInvalid)
		}
		c.Rect = v4l2.Rect{Width: d.Width, Height: d.Height}
		return nil
	}

	r, ok := d.crops[c.Type]
	if !ok {
		return fmt.Errorf("%w: crop not set", errInvalid)
	}
	c.Rect = r
	return nil
}

// SetCrop implements v4l2.Device.
func (d *M2MDevice) SetCrop(c *v4l2.Crop) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	if !d.Converter {
		return fmt.Errorf("%w: crop cannot be set", errInvalid)
	}

	d.crops[c.Type] = c.Rect
	return nil
}

// Close implements v4l2.Device.
func (d *M2MDevice) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	if d.closed {
		return fmt.Errorf("%w: device already closed", errInvalid)
	}
	d.closed = true
	return nil
}

// Owned returns the indexes of the buffers of a queue that are owned by the device,
// either waiting to be processed or waiting to be dequeued.
func (d *M2MDevice) Owned(typ v4l2.BufType) []uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	q := d.queues[typ]
	ret := make([]uint32, 0, len(q.queued)+len(q.done))
	ret = append(ret, q.queued...)
	ret = append(ret, q.done...)
	slices.Sort(ret)
	return ret
}

// Streaming returns whether a queue is streaming.
func (d *M2MDevice) Streaming(typ v4l2.BufType) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	return d.queues[typ].streaming
}

// BufferCount returns the number of buffers allocated on a queue.
func (d *M2MDevice) BufferCount(typ v4l2.BufType) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initialize()

	return len(d.queues[typ].buffers)
}

// Pictures returns the number of pictures produced.
func (d *M2MDevice) Pictures() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.pictures
}

// Mapped returns the number of planes that are currently mapped.
func (d *M2MDevice) Mapped() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.mapped
}

// Closed returns whether the device has been closed.
func (d *M2MDevice) Closed() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.closed
}
