package backend_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/backend"
)

func out(name string, w, h int) backend.OutputInfo {
	return backend.OutputInfo{Name: name, Rect: image.Rect(0, 0, w, h), Scale: 1, RefreshMHz: 60000}
}

func TestPresentationCompletesOnDemand(t *testing.T) {
	be := backend.NewHeadless(false, out("a", 100, 100))

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	tok, err := be.Present("a", img)
	require.NoError(t, err)

	select {
	case <-be.Presented():
		t.Fatal("frame completed before CompleteFrames")
	default:
	}

	be.CompleteFrames()
	assert.Equal(t, tok, <-be.Presented())
}

func TestAutoModeCompletesImmediately(t *testing.T) {
	be := backend.NewHeadless(true, out("a", 10, 10))
	tok, err := be.Present("a", image.NewRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	assert.Equal(t, tok, <-be.Presented())
}

func TestLastFrameSnapshots(t *testing.T) {
	be := backend.NewHeadless(true, out("a", 2, 2))

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 0xFF, A: 0xFF})
	_, err := be.Present("a", img)
	require.NoError(t, err)

	frame := be.LastFrame("a")
	require.NotNil(t, frame)
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, frame.RGBAAt(0, 0))

	// The snapshot is a copy, not a view of the submitted image.
	img.SetRGBA(0, 0, color.RGBA{G: 0xFF, A: 0xFF})
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, frame.RGBAAt(0, 0))
}

func TestUnplugFailsPresent(t *testing.T) {
	be := backend.NewHeadless(true, out("a", 10, 10), out("b", 10, 10))
	be.Unplug("a")

	_, err := be.Present("a", image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.ErrorIs(t, err, backend.ErrOutputLost)

	_, err = be.Present("b", image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.NoError(t, err)

	evs := be.PollEvents(16)
	require.Len(t, evs, 1)
	assert.IsType(t, backend.OutputsChanged{}, evs[0])
}

func TestPollEventsRespectsMax(t *testing.T) {
	be := backend.NewHeadless(true, out("a", 10, 10))
	for i := range 5 {
		be.PushEvent(backend.Key{Time: uint32(i), Code: 30, Pressed: true})
	}

	assert.Len(t, be.PollEvents(3), 3)
	assert.Len(t, be.PollEvents(16), 2)
	assert.Empty(t, be.PollEvents(16))
}
