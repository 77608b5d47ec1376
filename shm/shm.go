// Package shm deals with the POSIX shared memory that backs wl_shm
// pools: mapping the files clients send, creating the compositor's
// own when running nested, and viewing pool bytes as images.
package shm

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"deedles.dev/ximage"
	"golang.org/x/sys/unix"
)

// Pixel formats, by wl_shm format code.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

// Create makes a new anonymous shared memory file of the given size.
func Create(size int64) (*os.File, error) {
	fd, err := unix.MemfdCreate("loon-shm", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create shm file: %w", err)
	}
	file := os.NewFile(uintptr(fd), "loon-shm")
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("resize shm file: %w", err)
	}
	return file, nil
}

// Mmap is a mapped view of a shared memory file.
type Mmap []byte

// MapShared maps size bytes of f with the given protection flags,
// e.g. unix.PROT_READ for pools received from clients.
func MapShared(f *os.File, size int, prot int) (Mmap, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map shm file: %w", err)
	}
	return data, nil
}

// Unmap releases the mapping. Images created over it must not be
// used afterwards.
func (m Mmap) Unmap() error {
	return unix.Munmap(m)
}

// Image views pix as an image of the given wl_shm format. The pixel
// data must be tightly packed, 4 bytes per pixel.
func Image(pix []byte, size image.Point, format uint32) (draw.Image, error) {
	if len(pix) < 4*size.X*size.Y {
		return nil, fmt.Errorf("%v bytes is too small for a %v image", len(pix), size)
	}
	rect := image.Rectangle{Max: size}
	switch format {
	case FormatARGB8888:
		return &ximage.FormatImage{Format: ximage.ARGB8888, Rect: rect, Pix: pix}, nil
	case FormatXRGB8888:
		return &ximage.FormatImage{Format: ximage.XRGB8888, Rect: rect, Pix: pix}, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %#x", format)
	}
}
