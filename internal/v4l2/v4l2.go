// Package v4l2 contains a client for Video4Linux2 memory-to-memory devices.
package v4l2

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/hwdecode/internal/defs"
)

// MaxPlanes is the maximum number of planes of a multi-planar buffer.
const MaxPlanes = 8

// ErrNotReady is returned by DequeueBuffer when no buffer has been processed yet.
var ErrNotReady = errors.New("buffer not ready")

// BufType is a buffer queue type.
type BufType uint32

// buffer types.
const (
	BufTypeCapture BufType = 9  // V4L2_BUF_TYPE_VIDEO_CAPTURE_MPLANE
	BufTypeOutput  BufType = 10 // V4L2_BUF_TYPE_VIDEO_OUTPUT_MPLANE
)

// String implements fmt.Stringer.
func (t BufType) String() string {
	switch t {
	case BufTypeCapture:
		return "capture"
	case BufTypeOutput:
		return "output"
	}
	return fmt.Sprintf("unknown (%d)", uint32(t))
}

// Memory is a buffer memory type.
type Memory uint32

// memory types.
const (
	MemoryMMAP    Memory = 1
	MemoryUserPtr Memory = 2
)

// Field is a field order.
type Field uint32

// field orders.
const (
	FieldAny  Field = 0
	FieldNone Field = 1
)

// FourCC is a pixel format code.
type FourCC uint32

func fourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// pixel formats.
var (
	PixFmtH264    = fourCC('H', '2', '6', '4')
	PixFmtMPEG1   = fourCC('M', 'P', 'G', '1')
	PixFmtMPEG2   = fourCC('M', 'P', 'G', '2')
	PixFmtMPEG4   = fourCC('M', 'P', 'G', '4')
	PixFmtNV12    = fourCC('N', 'V', '1', '2')
	PixFmtNV12M   = fourCC('N', 'M', '1', '2')
	PixFmtNV12MT  = fourCC('T', 'M', '1', '2')
	PixFmtYUV420M = fourCC('Y', 'M', '1', '2')
)

// String implements fmt.Stringer.
func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// CodedFormat returns the compressed format that is fed into the decoder for a profile.
func CodedFormat(p defs.Profile) FourCC {
	switch p {
	case defs.ProfileMPEG1:
		return PixFmtMPEG1

	case defs.ProfileMPEG2Simple, defs.ProfileMPEG2Main:
		return PixFmtMPEG2

	case defs.ProfileMPEG4SP, defs.ProfileMPEG4ASP:
		return PixFmtMPEG4
	}
	return PixFmtH264
}

// control IDs.
const (
	CIDMinBuffersForCapture uint32 = 0x00980900 + 39
)

// device capabilities.
const (
	CapVideoCaptureMPlane uint32 = 0x00001000
	CapVideoOutputMPlane  uint32 = 0x00002000
	CapVideoM2MMPlane     uint32 = 0x00004000
	CapStreaming          uint32 = 0x04000000
	CapDeviceCaps         uint32 = 0x80000000
)

// IsM2M checks whether capabilities describe a streaming multi-planar memory-to-memory device.
func IsM2M(caps uint32) bool {
	return ((caps&CapVideoM2MMPlane) != 0 ||
		((caps&CapVideoCaptureMPlane) != 0 && (caps&CapVideoOutputMPlane) != 0)) &&
		(caps&CapStreaming) != 0
}

// PlaneFormat is the format of a single plane.
type PlaneFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
}

// Format is a multi-planar picture format.
type Format struct {
	Type        BufType
	Width       uint32
	Height      uint32
	PixelFormat FourCC
	Field       Field
	NumPlanes   uint8
	Planes      [MaxPlanes]PlaneFormat
}

// Plane is a plane of a buffer.
type Plane struct {
	BytesUsed uint32
	Length    uint32

	// offset to pass to Map, with MemoryMMAP.
	MemOffset uint32

	// user memory, with MemoryUserPtr.
	UserPtr []byte
}

// Buffer is a multi-planar buffer.
type Buffer struct {
	Index     uint32
	Type      BufType
	Memory    Memory
	NumPlanes int
	Planes    [MaxPlanes]Plane
}

// Rect is a rectangle.
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

// Crop is a crop rectangle of a queue.
type Crop struct {
	Type BufType
	Rect Rect
}

// FormatDesc describes a supported pixel format.
type FormatDesc struct {
	Index       uint32
	Description string
	PixelFormat FourCC
}

// Capability contains device informations.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Capabilities uint32
}

// PollEvents are the events returned by Poll.
type PollEvents struct {
	// a capture buffer can be dequeued.
	CaptureReady bool

	// an output buffer can be dequeued.
	OutputReady bool
}

// Device is a Video4Linux2 memory-to-memory device.
type Device interface {
	QueryCapability() (*Capability, error)
	SetFormat(f *Format) error
	GetFormat(f *Format) error
	TryFormat(f *Format) error
	EnumFormats(typ BufType) ([]FormatDesc, error)
	RequestBuffers(typ BufType, mem Memory, count uint32) (uint32, error)
	QueryBuffer(b *Buffer) error
	Map(offset uint32, length uint32) ([]byte, error)
	Unmap(mem []byte) error
	QueueBuffer(b *Buffer) error
	DequeueBuffer(b *Buffer) error
	StreamOn(typ BufType) error
	StreamOff(typ BufType) error
	Poll(timeout time.Duration) (PollEvents, error)
	GetControl(id uint32) (int32, error)
	GetCrop(c *Crop) error
	SetCrop(c *Crop) error
	Close() error
}
