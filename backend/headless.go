package backend

import (
	"image"
	"image/draw"
	"slices"
)

// Headless is a backend with no hardware behind it. Outputs are
// in-memory images, input is whatever the test scripts in, and
// presentation completes when the test (or the auto mode) says so.
// It is the reference for the timing semantics every other backend
// must match.
type Headless struct {
	auto      bool
	outputs   []OutputInfo
	events    []InputEvent
	presented chan PresentationToken
	pending   []PresentationToken
	frames    map[string]*image.RGBA
	next      PresentationToken
}

// NewHeadless creates a headless backend with the given outputs. In
// auto mode every Present completes immediately; tests generally want
// auto off and call CompleteFrames themselves.
func NewHeadless(auto bool, outputs ...OutputInfo) *Headless {
	return &Headless{
		auto:      auto,
		outputs:   slices.Clone(outputs),
		presented: make(chan PresentationToken, 64),
		frames:    make(map[string]*image.RGBA),
	}
}

func (h *Headless) Name() string { return "headless" }

func (h *Headless) Outputs() []OutputInfo {
	return slices.Clone(h.outputs)
}

// PushEvent scripts an input event for the next PollEvents.
func (h *Headless) PushEvent(ev InputEvent) {
	h.events = append(h.events, ev)
}

func (h *Headless) PollEvents(max int) []InputEvent {
	n := min(max, len(h.events))
	out := slices.Clone(h.events[:n])
	h.events = h.events[n:]
	return out
}

func (h *Headless) ImportBuffer(bh BufferHandle) (image.Image, error) {
	if bh.Image == nil {
		return nil, ErrImportFailed
	}
	return bh.Image, nil
}

func (h *Headless) Present(output string, img image.Image) (PresentationToken, error) {
	if !slices.ContainsFunc(h.outputs, func(o OutputInfo) bool { return o.Name == output }) {
		return 0, ErrOutputLost
	}

	frame := image.NewRGBA(img.Bounds())
	draw.Draw(frame, frame.Rect, img, img.Bounds().Min, draw.Src)
	h.frames[output] = frame

	h.next++
	tok := h.next
	if h.auto {
		h.presented <- tok
	} else {
		h.pending = append(h.pending, tok)
	}
	return tok, nil
}

// CompleteFrames signals that every submitted frame has reached the
// display.
func (h *Headless) CompleteFrames() {
	for _, tok := range h.pending {
		h.presented <- tok
	}
	h.pending = nil
}

func (h *Headless) Presented() <-chan PresentationToken {
	return h.presented
}

// LastFrame returns the most recently presented frame for an output.
func (h *Headless) LastFrame(output string) *image.RGBA {
	return h.frames[output]
}

// Unplug removes an output, as a hot-unplug would. Present calls for
// it start failing with ErrOutputLost.
func (h *Headless) Unplug(output string) {
	h.outputs = slices.DeleteFunc(h.outputs, func(o OutputInfo) bool { return o.Name == output })
	h.PushEvent(OutputsChanged{})
}

func (h *Headless) Close() error { return nil }
