// Package render decides when frames are due and turns committed
// surface state into presented output images. It only ever reads the
// state store, and only via snapshots taken on the loop thread; the
// store is never mutated from here.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"deedles.dev/ximage"
	"github.com/charmbracelet/log"
	"lagoon.dev/loon/backend"
	"lagoon.dev/loon/damage"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/internal/set"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/state"
)

// FrameSink receives frame-callback completions: the surface may
// submit its next buffer. Fired only after genuine presentation.
type FrameSink interface {
	FrameDone(sid state.SurfaceID, msec uint32)
}

var background = image.NewUniform(color.RGBA{R: 0x10, G: 0x10, B: 0x18, A: 0xFF})

// item is one surface in a frame snapshot: everything compositing
// needs, copied out so the store can change underneath.
type item struct {
	sid    state.SurfaceID
	buf    *state.Buffer
	img    image.Image
	rect   image.Rectangle // output-local logical
	opaque region.Region   // output-local logical
}

// frame is an in-flight presented frame awaiting the backend's
// presentation signal.
type frame struct {
	output   state.OutputID
	buffers  []state.BufferID
	surfaces []state.SurfaceID
}

type Scheduler struct {
	store   *state.Store
	tracker *damage.Tracker
	be      backend.Backend
	stages  []Stage
	frames  FrameSink
	log     *log.Logger

	// OnOutputLost is called when presenting to an output fails
	// because it went away. The compositor tears that output down;
	// the others keep presenting.
	OnOutputLost func(state.OutputID)

	names    map[state.OutputID]string
	targets  map[state.OutputID]*ximage.FormatImage
	inflight map[backend.PresentationToken]*frame
	wants    set.Set[state.SurfaceID]

	now func() uint32
}

func NewScheduler(store *state.Store, tracker *damage.Tracker, be backend.Backend, stages []Stage, frames FrameSink) *Scheduler {
	start := time.Now()
	return &Scheduler{
		store:    store,
		tracker:  tracker,
		be:       be,
		stages:   stages,
		frames:   frames,
		log:      wlog.Component("render"),
		names:    make(map[state.OutputID]string),
		targets:  make(map[state.OutputID]*ximage.FormatImage),
		inflight: make(map[backend.PresentationToken]*frame),
		wants:    make(set.Set[state.SurfaceID]),
		now:      func() uint32 { return uint32(time.Since(start) / time.Millisecond) },
	}
}

// SetFrameSink wires the frame callback receiver in after
// construction, for the circular setup between scheduler and
// protocol layer.
func (s *Scheduler) SetFrameSink(frames FrameSink) {
	s.frames = frames
}

// RegisterOutput ties a store output to the backend output it
// presents on.
func (s *Scheduler) RegisterOutput(oid state.OutputID, backendName string) {
	s.names[oid] = backendName
	s.tracker.InvalidateOutput(oid)
}

// DropOutput forgets an output that went away. In-flight frames for
// it are abandoned; their buffers release when the token arrives or,
// if it never does, when the surfaces commit again.
func (s *Scheduler) DropOutput(oid state.OutputID) {
	delete(s.names, oid)
	delete(s.targets, oid)
	s.tracker.DropOutput(oid)
}

// RequestFrame records that the surface wants a frame callback. It
// fires after the next frame that could have sampled the surface has
// been presented.
func (s *Scheduler) RequestFrame(sid state.SurfaceID) {
	s.wants.Add(sid)
}

// DropSurface forgets a destroyed surface's frame callback request.
func (s *Scheduler) DropSurface(sid state.SurfaceID) {
	s.wants.Delete(sid)
}

// Tick runs one scheduling pass over every registered output.
func (s *Scheduler) Tick() {
	for oid := range s.names {
		err := s.RenderOutput(oid)
		switch {
		case err == nil:
		case errors.Is(err, backend.ErrOutputLost):
			s.log.Warn("output lost", "output", oid)
			if s.OnOutputLost != nil {
				s.OnOutputLost(oid)
			}
		case errors.Is(err, backend.ErrBusy):
			s.log.Debug("backend busy, frame deferred", "output", oid)
		default:
			s.log.Error("render failed", "output", oid, "err", err)
		}
	}
}

// RenderOutput runs one compositing pass for the output if one is
// due. With no damage and no frame callbacks pending it does
// nothing: the scheduler never draws unconditionally at refresh
// rate.
func (s *Scheduler) RenderOutput(oid state.OutputID) error {
	out, ok := s.store.Output(oid)
	if !ok {
		return fmt.Errorf("output %v not in store", oid)
	}

	if !s.tracker.Has(oid) {
		// Clean output. Frame callbacks still owed to its surfaces
		// fire now; the clients may produce the next frame even
		// though we skipped this one.
		s.fireFrames(s.surfacesWanting(oid))
		return nil
	}

	dmg := s.tracker.Collect(oid)
	items := s.snapshot(oid, out)

	target := s.target(oid, out)
	s.composite(target, dmg, items)

	img := target
	for _, stage := range s.stages {
		img = stage.Apply(img, out)
	}

	tok, err := s.be.Present(s.names[oid], img)
	if err != nil {
		for _, it := range items {
			s.store.ReleaseBuffer(it.buf.ID)
		}
		// Nothing made it to the screen; put the damage back so the
		// next pass repaints it.
		s.tracker.MarkLayout(dmg.Translate(out.Rect.Min))
		return err
	}

	f := frame{output: oid, surfaces: s.surfacesWanting(oid)}
	for _, it := range items {
		f.buffers = append(f.buffers, it.buf.ID)
	}
	s.inflight[tok] = &f
	return nil
}

// snapshot copies out everything this frame needs from the store:
// paint order, geometry, opaque regions, and referenced buffers.
// Buffers stay referenced until the frame's presentation signal, so
// clients cannot scribble on pixels mid-read.
func (s *Scheduler) snapshot(oid state.OutputID, out *state.Output) []item {
	var items []item
	for _, sid := range s.store.PaintOrder(oid) {
		sf, ok := s.store.Surface(sid)
		if !ok || sf.Current.Buffer == 0 {
			continue
		}
		buf, ok := s.store.Buffer(sf.Current.Buffer)
		if !ok {
			continue
		}

		img, err := s.be.ImportBuffer(backend.BufferHandle{Image: buf.Image})
		if err != nil {
			// Skip this surface for the frame and retry next time.
			s.log.Warn("buffer import failed", "surface", sid, "err", err)
			abs, _ := s.store.AbsolutePosition(sid)
			s.tracker.MarkLayout(region.FromRect(state.PointRect(abs, sf.Current.Size)))
			continue
		}

		abs, _ := s.store.AbsolutePosition(sid)
		local := abs.Sub(out.Rect.Min)
		buf.Ref()
		items = append(items, item{
			sid:    sid,
			buf:    buf,
			img:    img,
			rect:   state.PointRect(local, sf.Current.Size),
			opaque: sf.Current.Opaque.Clone().Translate(local),
		})
	}

	items = append(items, s.cursorItems(out)...)
	return items
}

// cursorItems snapshots each seat's cursor surface, drawn above
// everything else at the pointer position.
func (s *Scheduler) cursorItems(out *state.Output) []item {
	var items []item
	for _, seat := range s.store.Seats() {
		st, ok := s.store.Seat(seat)
		if !ok || st.Cursor == 0 {
			continue
		}
		sf, ok := s.store.Surface(st.Cursor)
		if !ok || !sf.Mapped {
			continue
		}
		buf, ok := s.store.Buffer(sf.Current.Buffer)
		if !ok {
			continue
		}
		img, err := s.be.ImportBuffer(backend.BufferHandle{Image: buf.Image})
		if err != nil {
			continue
		}
		pos := st.PointerPos.Sub(st.CursorHot).Sub(out.Rect.Min)
		buf.Ref()
		items = append(items, item{
			sid:  st.Cursor,
			buf:  buf,
			img:  img,
			rect: state.PointRect(pos, sf.Current.Size),
		})
	}
	return items
}

func (s *Scheduler) target(oid state.OutputID, out *state.Output) *ximage.FormatImage {
	t := s.targets[oid]
	if t == nil || t.Rect.Size() != out.Rect.Size() {
		t = newTarget(out.Rect.Size())
		s.targets[oid] = t
	}
	return t
}

// composite repaints the damaged region of the target from the
// snapshot, back to front. Where a surface's opaque region covers
// the area being drawn it is copied instead of blended; surfaces
// with alpha blend over what is beneath them.
func (s *Scheduler) composite(target *ximage.FormatImage, dmg region.Region, items []item) {
	for _, r := range dmg {
		r = r.Intersect(target.Rect)
		if r.Empty() {
			continue
		}
		draw.Draw(target, r, background, image.Point{}, draw.Src)

		for _, it := range items {
			clip := r.Intersect(it.rect)
			if clip.Empty() {
				continue
			}
			op := draw.Over
			if it.opaque.Covers(clip) {
				op = draw.Src
			}
			sp := clip.Min.Sub(it.rect.Min).Add(it.img.Bounds().Min)
			draw.Draw(target, clip, it.img, sp, op)
		}
	}
}

func (s *Scheduler) surfacesWanting(oid state.OutputID) []state.SurfaceID {
	var sids []state.SurfaceID
	for sid := range s.wants {
		for _, o := range s.store.OutputsOf(sid) {
			if o == oid {
				sids = append(sids, sid)
				break
			}
		}
	}
	return sids
}

func (s *Scheduler) fireFrames(sids []state.SurfaceID) {
	if s.frames == nil {
		return
	}
	t := s.now()
	for _, sid := range sids {
		if s.wants.Has(sid) {
			s.wants.Delete(sid)
			s.frames.FrameDone(sid, t)
		}
	}
}

// HandlePresented finishes a frame whose presentation the backend
// signalled: buffer references drop through the store (triggering
// release events for buffers nothing else holds and reaping ones the
// client destroyed mid-flight) and frame callbacks fire.
func (s *Scheduler) HandlePresented(tok backend.PresentationToken) {
	f := s.inflight[tok]
	if f == nil {
		return
	}
	delete(s.inflight, tok)

	for _, bid := range f.buffers {
		s.store.ReleaseBuffer(bid)
	}
	s.fireFrames(f.surfaces)
}
