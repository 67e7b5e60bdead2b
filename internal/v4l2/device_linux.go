//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type device struct {
	fd   int
	path string
}

// Open opens a device in non-blocking mode.
func Open(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}

	return &device{
		fd:   fd,
		path: path,
	}, nil
}

// String implements fmt.Stringer.
func (d *device) String() string {
	return d.path
}

func (d *device) QueryCapability() (*Capability, error) {
	var k kernelCapability
	err := ioctl(d.fd, vidiocQueryCap, unsafe.Pointer(&k))
	if err != nil {
		return nil, fmt.Errorf("VIDIOC_QUERYCAP failed: %w", err)
	}

	caps := k.capabilities
	if (caps & CapDeviceCaps) != 0 {
		caps = k.deviceCaps
	}

	return &Capability{
		Driver:       cString(k.driver[:]),
		Card:         cString(k.card[:]),
		BusInfo:      cString(k.busInfo[:]),
		Capabilities: caps,
	}, nil
}

func (d *device) formatIoctl(name string, req uintptr, f *Format) error {
	k := f.toKernel()
	err := ioctl(d.fd, req, unsafe.Pointer(k))
	if err != nil {
		return fmt.Errorf("%s failed on %v queue: %w", name, f.Type, err)
	}

	f.fromKernel(k)
	return nil
}

func (d *device) SetFormat(f *Format) error {
	return d.formatIoctl("VIDIOC_S_FMT", vidiocSFmt, f)
}

func (d *device) GetFormat(f *Format) error {
	return d.formatIoctl("VIDIOC_G_FMT", vidiocGFmt, f)
}

func (d *device) TryFormat(f *Format) error {
	return d.formatIoctl("VIDIOC_TRY_FMT", vidiocTryFmt, f)
}

func (d *device) EnumFormats(typ BufType) ([]FormatDesc, error) {
	var ret []FormatDesc

	for i := uint32(0); ; i++ {
		k := kernelFmtDesc{
			index: i,
			typ:   uint32(typ),
		}

		err := ioctl(d.fd, vidiocEnumFmt, unsafe.Pointer(&k))
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				return ret, nil
			}
			return nil, fmt.Errorf("VIDIOC_ENUM_FMT failed: %w", err)
		}

		ret = append(ret, FormatDesc{
			Index:       k.index,
			Description: cString(k.description[:]),
			PixelFormat: FourCC(k.pixelFormat),
		})
	}
}

func (d *device) RequestBuffers(typ BufType, mem Memory, count uint32) (uint32, error) {
	k := kernelRequestBuffers{
		count:  count,
		typ:    uint32(typ),
		memory: uint32(mem),
	}

	err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&k))
	if err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS failed on %v queue: %w", typ, err)
	}

	return k.count, nil
}

func (d *device) bufferIoctl(req uintptr, b *Buffer) error {
	var planes [MaxPlanes]kernelPlane

	for i := 0; i < b.NumPlanes; i++ {
		p := &b.Planes[i]
		planes[i].bytesUsed = p.BytesUsed
		planes[i].length = p.Length

		if b.Memory == MemoryUserPtr && len(p.UserPtr) != 0 {
			planes[i].m = uintptr(unsafe.Pointer(&p.UserPtr[0]))
		}
	}

	numPlanes := b.NumPlanes
	if numPlanes == 0 {
		numPlanes = MaxPlanes
	}

	k := kernelBuffer{
		index:  b.Index,
		typ:    uint32(b.Type),
		memory: uint32(b.Memory),
		planes: &planes[0],
		length: uint32(numPlanes),
	}

	err := ioctl(d.fd, req, unsafe.Pointer(&k))
	if err != nil {
		return err
	}

	b.Index = k.index
	b.NumPlanes = int(k.length)

	for i := 0; i < b.NumPlanes; i++ {
		b.Planes[i].BytesUsed = planes[i].bytesUsed
		b.Planes[i].Length = planes[i].length

		if b.Memory == MemoryMMAP {
			b.Planes[i].MemOffset = uint32(planes[i].m)
		}
	}

	return nil
}

func (d *device) QueryBuffer(b *Buffer) error {
	err := d.bufferIoctl(vidiocQueryBuf, b)
	if err != nil {
		return fmt.Errorf("VIDIOC_QUERYBUF failed on %v queue: %w", b.Type, err)
	}
	return nil
}

func (d *device) Map(offset uint32, length uint32) ([]byte, error) {
	mem, err := unix.Mmap(d.fd, int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return mem, nil
}

func (d *device) Unmap(mem []byte) error {
	return unix.Munmap(mem)
}

func (d *device) QueueBuffer(b *Buffer) error {
	err := d.bufferIoctl(vidiocQBuf, b)
	if err != nil {
		return fmt.Errorf("VIDIOC_QBUF failed on %v queue: %w", b.Type, err)
	}
	return nil
}

func (d *device) DequeueBuffer(b *Buffer) error {
	err := d.bufferIoctl(vidiocDQBuf, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return ErrNotReady
		}
		return fmt.Errorf("VIDIOC_DQBUF failed on %v queue: %w", b.Type, err)
	}
	return nil
}

func (d *device) stream(name string, req uintptr, typ BufType) error {
	v := int32(typ)
	err := ioctl(d.fd, req, unsafe.Pointer(&v))
	if err != nil {
		return fmt.Errorf("%s failed on %v queue: %w", name, typ, err)
	}
	return nil
}

func (d *device) StreamOn(typ BufType) error {
	return d.stream("VIDIOC_STREAMON", vidiocStreamOn, typ)
}

func (d *device) StreamOff(typ BufType) error {
	return d.stream("VIDIOC_STREAMOFF", vidiocStreamOff, typ)
}

func (d *device) Poll(timeout time.Duration) (PollEvents, error) {
	fds := []unix.PollFd{{
		Fd:     int32(d.fd),
		Events: unix.POLLIN | unix.POLLOUT,
	}}

	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return PollEvents{}, fmt.Errorf("poll failed: %w", err)
		}

		if n == 0 {
			return PollEvents{}, nil
		}

		if (fds[0].Revents & unix.POLLERR) != 0 {
			return PollEvents{}, fmt.Errorf("poll returned an error condition")
		}

		return PollEvents{
			CaptureReady: (fds[0].Revents & unix.POLLIN) != 0,
			OutputReady:  (fds[0].Revents & unix.POLLOUT) != 0,
		}, nil
	}
}

func (d *device) GetControl(id uint32) (int32, error) {
	k := kernelControl{id: id}
	err := ioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&k))
	if err != nil {
		return 0, fmt.Errorf("VIDIOC_G_CTRL failed: %w", err)
	}
	return k.value, nil
}

func (d *device) GetCrop(c *Crop) error {
	k := kernelCrop{typ: uint32(c.Type)}
	err := ioctl(d.fd, vidiocGCrop, unsafe.Pointer(&k))
	if err != nil {
		return fmt.Errorf("VIDIOC_G_CROP failed on %v queue: %w", c.Type, err)
	}

	c.Rect = Rect{
		Left:   k.c.left,
		Top:    k.c.top,
		Width:  k.c.width,
		Height: k.c.height,
	}
	return nil
}

func (d *device) SetCrop(c *Crop) error {
	k := kernelCrop{
		typ: uint32(c.Type),
		c: kernelRect{
			left:   c.Rect.Left,
			top:    c.Rect.Top,
			width:  c.Rect.Width,
			height: c.Rect.Height,
		},
	}
	err := ioctl(d.fd, vidiocSCrop, unsafe.Pointer(&k))
	if err != nil {
		return fmt.Errorf("VIDIOC_S_CROP failed on %v queue: %w", c.Type, err)
	}
	return nil
}

func (d *device) Close() error {
	return unix.Close(d.fd)
}
