package backend

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"deedles.dev/ximage"
	"golang.org/x/sys/unix"
)

const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602

	evKey = 0x01
	evRel = 0x02

	relX = 0x00
	relY = 0x01

	btnMouseFirst = 0x110
	btnMouseLast  = 0x117
)

type fbBitfield struct {
	Offset, Length, MSBRight uint32
}

type fbVarScreenInfo struct {
	XRes, YRes               uint32
	XResVirtual, YResVirtual uint32
	XOffset, YOffset         uint32
	BitsPerPixel             uint32
	Grayscale                uint32
	Red, Green, Blue, Transp fbBitfield
	NonStd                   uint32
	Activate                 uint32
	Height, Width            uint32
	AccelFlags               uint32
	Pixclock                 uint32
	LeftMargin, RightMargin  uint32
	UpperMargin, LowerMargin uint32
	HSyncLen, VSyncLen       uint32
	Sync, VMode              uint32
	Rotate                   uint32
	Colorspace               uint32
	Reserved                 [4]uint32
}

type fbFixScreenInfo struct {
	ID           [16]byte
	SMemStart    uint64
	SMemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	_            uint16
	LineLength   uint32
	_            uint32
	MMIOStart    uint64
	MMIOLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// FBDev presents directly into the Linux framebuffer and reads raw
// input from evdev devices. It only speaks 32 bits per pixel.
type FBDev struct {
	fb        *os.File
	mem       []byte
	variable  fbVarScreenInfo
	fixed     fbFixScreenInfo
	inputs    []*os.File
	presented chan PresentationToken
	next      PresentationToken
	start     time.Time

	pointer image.Point
	size    image.Point
}

// OpenFBDev opens the framebuffer at path ("" means /dev/fb0) and
// every evdev device it can read.
func OpenFBDev(path string) (*FBDev, error) {
	if path == "" {
		path = "/dev/fb0"
	}
	fb, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer: %w", err)
	}

	d := FBDev{
		fb:        fb,
		presented: make(chan PresentationToken, 8),
		start:     time.Now(),
	}

	if err := d.ioctl(fbioGetVScreenInfo, unsafe.Pointer(&d.variable)); err != nil {
		fb.Close()
		return nil, fmt.Errorf("read framebuffer mode: %w", err)
	}
	if err := d.ioctl(fbioGetFScreenInfo, unsafe.Pointer(&d.fixed)); err != nil {
		fb.Close()
		return nil, fmt.Errorf("read framebuffer layout: %w", err)
	}
	if d.variable.BitsPerPixel != 32 {
		fb.Close()
		return nil, fmt.Errorf("framebuffer is %v bpp, need 32", d.variable.BitsPerPixel)
	}

	d.mem, err = unix.Mmap(int(fb.Fd()), 0, int(d.fixed.SMemLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fb.Close()
		return nil, fmt.Errorf("map framebuffer: %w", err)
	}

	d.size = image.Pt(int(d.variable.XRes), int(d.variable.YRes))
	d.pointer = d.size.Div(2)
	d.openInputs()
	return &d, nil
}

func (d *FBDev) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.fb.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *FBDev) openInputs() {
	paths, _ := filepath.Glob("/dev/input/event*")
	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDONLY|unix.O_NONBLOCK, 0)
		if err != nil {
			continue
		}
		d.inputs = append(d.inputs, f)
	}
}

func (d *FBDev) Name() string { return "fbdev" }

func (d *FBDev) Outputs() []OutputInfo {
	return []OutputInfo{{
		Name:       "fb0",
		Rect:       image.Rectangle{Max: d.size},
		Scale:      1,
		RefreshMHz: 60000,
	}}
}

// inputEventSize is the on-disk size of a struct input_event.
const inputEventSize = 24

func (d *FBDev) PollEvents(max int) []InputEvent {
	var evs []InputEvent
	now := uint32(time.Since(d.start) / time.Millisecond)
	buf := make([]byte, inputEventSize*64)

	for _, f := range d.inputs {
		for len(evs) < max {
			n, err := f.Read(buf)
			if err != nil || n < inputEventSize {
				break
			}
			for off := 0; off+inputEventSize <= n; off += inputEventSize {
				typ := binary.NativeEndian.Uint16(buf[off+16:])
				code := binary.NativeEndian.Uint16(buf[off+18:])
				value := int32(binary.NativeEndian.Uint32(buf[off+20:]))

				switch typ {
				case evRel:
					switch code {
					case relX:
						d.pointer.X = clamp(d.pointer.X+int(value), 0, d.size.X-1)
					case relY:
						d.pointer.Y = clamp(d.pointer.Y+int(value), 0, d.size.Y-1)
					default:
						continue
					}
					evs = append(evs, PointerMotion{Time: now, Pos: d.pointer})
				case evKey:
					pressed := value != 0
					if code >= btnMouseFirst && code <= btnMouseLast {
						evs = append(evs, PointerButton{Time: now, Button: uint32(code), Pressed: pressed})
					} else if value != 2 { // ignore autorepeat
						evs = append(evs, Key{Time: now, Code: uint32(code), Pressed: pressed})
					}
				}
			}
		}
	}
	return evs
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func (d *FBDev) ImportBuffer(h BufferHandle) (image.Image, error) {
	if h.Image == nil {
		return nil, ErrImportFailed
	}
	return h.Image, nil
}

// Present copies the frame into framebuffer memory. Writing the
// memory is the presentation, so the token completes right away.
func (d *FBDev) Present(output string, img image.Image) (PresentationToken, error) {
	if output != "fb0" {
		return 0, ErrOutputLost
	}

	stride := int(d.fixed.LineLength)
	if fi, ok := img.(*ximage.FormatImage); ok && fi.Format == ximage.ARGB8888 {
		// Same byte layout as a 32bpp framebuffer; copy rows.
		w := min(fi.Rect.Dx(), d.size.X)
		for y := 0; y < min(fi.Rect.Dy(), d.size.Y); y++ {
			copy(d.mem[y*stride:y*stride+4*w], fi.Pix[y*4*fi.Rect.Dx():])
		}
	} else {
		d.slowCopy(img, stride)
	}

	d.next++
	tok := d.next
	select {
	case d.presented <- tok:
	default:
		return 0, ErrDeviceReset
	}
	return tok, nil
}

func (d *FBDev) slowCopy(img image.Image, stride int) {
	b := img.Bounds()
	for y := 0; y < min(b.Dy(), d.size.Y); y++ {
		for x := 0; x < min(b.Dx(), d.size.X); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*stride + 4*x
			d.mem[i] = uint8(bl >> 8)
			d.mem[i+1] = uint8(g >> 8)
			d.mem[i+2] = uint8(r >> 8)
			d.mem[i+3] = 0xFF
		}
	}
}

func (d *FBDev) Presented() <-chan PresentationToken {
	return d.presented
}

func (d *FBDev) Close() error {
	for _, f := range d.inputs {
		f.Close()
	}
	if d.mem != nil {
		unix.Munmap(d.mem)
	}
	return d.fb.Close()
}
