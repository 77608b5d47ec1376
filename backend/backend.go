// Package backend abstracts where frames go and where input comes
// from. A backend drives real hardware, a nested window inside a host
// compositor, or nothing at all (headless, for tests); the scheduler
// and router only see this interface.
package backend

import (
	"errors"
	"image"
)

var (
	// ErrOutputLost reports that an output disappeared, e.g. was
	// hot-unplugged. The compositor drops the output and keeps going.
	ErrOutputLost = errors.New("backend: output lost")

	// ErrImportFailed reports that a client buffer could not be
	// imported this frame. The surface is skipped and retried.
	ErrImportFailed = errors.New("backend: buffer import failed")

	// ErrBusy reports that every backend buffer is still in use and
	// the frame cannot be presented yet. The caller keeps the damage
	// and retries on a later pass.
	ErrBusy = errors.New("backend: all buffers busy")

	// ErrDeviceReset reports that the whole device went away.
	ErrDeviceReset = errors.New("backend: device reset")
)

// OutputInfo describes a display sink the backend can present to.
type OutputInfo struct {
	Name       string
	Rect       image.Rectangle // layout position and logical size
	Scale      int
	RefreshMHz int32
}

// PresentationToken identifies one Present call. The backend sends it
// on the Presented channel once the frame has genuinely reached the
// display, never merely on submission.
type PresentationToken uint64

// InputEvent is a raw event sourced by the backend. Coordinates are
// in layout space.
type InputEvent interface {
	isInputEvent()
}

type PointerMotion struct {
	Time uint32
	Pos  image.Point
}

type PointerButton struct {
	Time    uint32
	Button  uint32
	Pressed bool
}

type Key struct {
	Time    uint32
	Code    uint32
	Pressed bool
}

type TouchDown struct {
	Time uint32
	ID   int32
	Pos  image.Point
}

type TouchMotion struct {
	Time uint32
	ID   int32
	Pos  image.Point
}

type TouchUp struct {
	Time uint32
	ID   int32
}

// OutputsChanged asks the compositor to re-enumerate Outputs.
type OutputsChanged struct{}

func (PointerMotion) isInputEvent()  {}
func (PointerButton) isInputEvent()  {}
func (Key) isInputEvent()            {}
func (TouchDown) isInputEvent()      {}
func (TouchMotion) isInputEvent()    {}
func (TouchUp) isInputEvent()        {}
func (OutputsChanged) isInputEvent() {}

// BufferHandle is the renderer's view of a committed client buffer.
type BufferHandle struct {
	// Image reads the client's pixels, e.g. straight from the mmap'd
	// shm pool.
	Image image.Image
}

// Backend is implemented per presentation/input technology.
type Backend interface {
	Name() string

	// Outputs enumerates the current display sinks.
	Outputs() []OutputInfo

	// PollEvents returns pending input events, at most max per call.
	// It never blocks beyond a bounded wait; an empty slice means no
	// events were ready.
	PollEvents(max int) []InputEvent

	// ImportBuffer makes a client buffer sampleable by this backend.
	// Implementations import zero-copy when they can and fall back to
	// copying for formats that need it.
	ImportBuffer(h BufferHandle) (image.Image, error)

	// Present submits a finished frame for the named output.
	Present(output string, img image.Image) (PresentationToken, error)

	// Presented delivers tokens for frames that have reached the
	// display.
	Presented() <-chan PresentationToken

	Close() error
}
