//go:build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// kernel structures of videodev2.h.

type kernelCapability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type kernelPlanePixFormat struct {
	sizeImage    uint32
	bytesPerLine uint32
	reserved     [6]uint16
}

type kernelPixFormatMPlane struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	colorspace   uint32
	planeFmt     [MaxPlanes]kernelPlanePixFormat
	numPlanes    uint8
	flags        uint8
	ycbcrEnc     uint8
	quantization uint8
	xferFunc     uint8
	reserved     [7]uint8
}

type kernelFormat struct {
	typ uint32
	fmt struct {
		// the union contains pointers
		_     [0]uintptr
		pixMP kernelPixFormatMPlane
		_     [8]byte
	}
}

type kernelFmtDesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelFormat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type kernelRequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type kernelTimecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type kernelPlane struct {
	bytesUsed  uint32
	length     uint32
	m          uintptr // mem_offset or userptr
	dataOffset uint32
	reserved   [11]uint32
}

type kernelBuffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  kernelTimecode
	sequence  uint32
	memory    uint32
	planes    *kernelPlane
	length    uint32
	reserved2 uint32
	requestFD int32
}

type kernelControl struct {
	id    uint32
	value int32
}

type kernelRect struct {
	left   int32
	top    int32
	width  uint32
	height uint32
}

type kernelCrop struct {
	typ uint32
	c   kernelRect
}

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir uintptr, nr uintptr, size uintptr) uintptr {
	return (dir << 30) | (size << 16) | ('V' << 8) | nr
}

var (
	vidiocQueryCap  = ioc(iocRead, 0, unsafe.Sizeof(kernelCapability{}))
	vidiocEnumFmt   = ioc(iocRead|iocWrite, 2, unsafe.Sizeof(kernelFmtDesc{}))
	vidiocGFmt      = ioc(iocRead|iocWrite, 4, unsafe.Sizeof(kernelFormat{}))
	vidiocSFmt      = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(kernelFormat{}))
	vidiocReqBufs   = ioc(iocRead|iocWrite, 8, unsafe.Sizeof(kernelRequestBuffers{}))
	vidiocQueryBuf  = ioc(iocRead|iocWrite, 9, unsafe.Sizeof(kernelBuffer{}))
	vidiocQBuf      = ioc(iocRead|iocWrite, 15, unsafe.Sizeof(kernelBuffer{}))
	vidiocDQBuf     = ioc(iocRead|iocWrite, 17, unsafe.Sizeof(kernelBuffer{}))
	vidiocStreamOn  = ioc(iocWrite, 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = ioc(iocWrite, 19, unsafe.Sizeof(int32(0)))
	vidiocGCtrl     = ioc(iocRead|iocWrite, 27, unsafe.Sizeof(kernelControl{}))
	vidiocGCrop     = ioc(iocRead|iocWrite, 59, unsafe.Sizeof(kernelCrop{}))
	vidiocSCrop     = ioc(iocWrite, 60, unsafe.Sizeof(kernelCrop{}))
	vidiocTryFmt    = ioc(iocRead|iocWrite, 64, unsafe.Sizeof(kernelFormat{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil

		case unix.EINTR:
			continue
		}
		return errno
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (f *Format) toKernel() *kernelFormat {
	var k kernelFormat
	k.typ = uint32(f.Type)
	k.fmt.pixMP.width = f.Width
	k.fmt.pixMP.height = f.Height
	k.fmt.pixMP.pixelFormat = uint32(f.PixelFormat)
	k.fmt.pixMP.field = uint32(f.Field)
	k.fmt.pixMP.numPlanes = f.NumPlanes

	for i, p := range f.Planes {
		k.fmt.pixMP.planeFmt[i].sizeImage = p.SizeImage
		k.fmt.pixMP.planeFmt[i].bytesPerLine = p.BytesPerLine
	}

	return &k
}

func (f *Format) fromKernel(k *kernelFormat) {
	f.Type = BufType(k.typ)
	f.Width = k.fmt.pixMP.width
	f.Height = k.fmt.pixMP.height
	f.PixelFormat = FourCC(k.fmt.pixMP.pixelFormat)
	f.Field = Field(k.fmt.pixMP.field)
	f.NumPlanes = k.fmt.pixMP.numPlanes

	for i, p := range k.fmt.pixMP.planeFmt {
		f.Planes[i] = PlaneFormat{
			SizeImage:    p.sizeImage,
			BytesPerLine: p.bytesPerLine,
		}
	}
}
