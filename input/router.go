package input

import (
	"image"

	"github.com/charmbracelet/log"
	"lagoon.dev/loon/backend"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/state"
)

// Sink receives routed events, already resolved to a target surface
// and surface-local coordinates. The protocol layer implements it by
// translating each call into the owning client's seat events.
type Sink interface {
	PointerEnter(sid state.SurfaceID, serial uint32, pos image.Point)
	PointerLeave(sid state.SurfaceID, serial uint32)
	PointerMotion(sid state.SurfaceID, time uint32, pos image.Point)
	PointerButton(sid state.SurfaceID, serial, time uint32, button Button, pressed bool)
	KeyboardEnter(sid state.SurfaceID, serial uint32)
	KeyboardLeave(sid state.SurfaceID, serial uint32)
	Key(sid state.SurfaceID, serial, time, code uint32, pressed bool)
}

// Router turns backend input events into seat-relative,
// surface-relative client events. It only mutates seat state through
// the store, on the loop thread.
type Router struct {
	store *state.Store
	seat  state.SeatID
	sink  Sink
	log   *log.Logger

	// OnActivate, if set, is called when a click lands on a surface
	// whose toplevel should become the active window. The compositor
	// wires raising and keyboard focus policy here.
	OnActivate func(toplevel state.SurfaceID)

	// OnDismiss, if set, is called when a press outside an explicitly
	// grabbing surface breaks its grab, e.g. clicking away from an
	// open popup.
	OnDismiss func(grabbed state.SurfaceID)

	buttons  int  // currently pressed buttons
	implicit bool // the active grab was started by a button press
	touch    int32
	touching bool
}

func NewRouter(store *state.Store, seat state.SeatID, sink Sink) *Router {
	return &Router{
		store: store,
		seat:  seat,
		sink:  sink,
		log:   wlog.Component("input"),
	}
}

// Dispatch routes one backend event. Events for surfaces that are
// gone by the time they are processed are dropped silently.
func (r *Router) Dispatch(ev backend.InputEvent) {
	switch ev := ev.(type) {
	case backend.PointerMotion:
		r.motion(ev.Time, ev.Pos)
	case backend.PointerButton:
		r.button(ev.Time, Button(ev.Button), ev.Pressed)
	case backend.Key:
		r.key(ev.Time, ev.Code, ev.Pressed)
	case backend.TouchDown:
		// Touch folds into the pointer: first contact moves and
		// presses, others are ignored.
		if !r.touching {
			r.touching, r.touch = true, ev.ID
			r.motion(ev.Time, ev.Pos)
			r.button(ev.Time, ButtonLeft, true)
		}
	case backend.TouchMotion:
		if r.touching && ev.ID == r.touch {
			r.motion(ev.Time, ev.Pos)
		}
	case backend.TouchUp:
		if r.touching && ev.ID == r.touch {
			r.touching = false
			r.button(ev.Time, ButtonLeft, false)
		}
	}
}

func (r *Router) seatState() *state.Seat {
	st, ok := r.store.Seat(r.seat)
	if !ok {
		panic("input: router's seat does not exist")
	}
	return st
}

// target resolves where pointer events go: the grabbing surface if a
// grab is active, the surface under the pointer otherwise.
func (r *Router) target(pos image.Point) (state.SurfaceID, image.Point, bool) {
	st := r.seatState()
	if st.Grab.Active {
		abs, err := r.store.AbsolutePosition(st.Grab.Surface)
		if err != nil {
			// The grabbing surface is gone; the store cleared the
			// grab with it.
			return 0, image.Point{}, false
		}
		return st.Grab.Surface, pos.Sub(abs), true
	}
	return r.store.SurfaceAt(pos)
}

func (r *Router) motion(time uint32, pos image.Point) {
	r.store.SetPointerPos(r.seat, pos)

	sid, local, ok := r.target(pos)
	st := r.seatState()

	if st.PointerFocus != sid {
		if st.PointerFocus != 0 {
			r.sink.PointerLeave(st.PointerFocus, r.store.NextSerial())
		}
		if err := r.store.SetPointerFocus(r.seat, sid); err != nil {
			r.log.Debug("pointer focus lost race with destroy", "surface", sid)
			return
		}
		if sid != 0 {
			r.sink.PointerEnter(sid, r.store.NextSerial(), local)
		}
	}

	if ok {
		r.sink.PointerMotion(sid, time, local)
	}
}

func (r *Router) button(time uint32, btn Button, pressed bool) {
	st := r.seatState()

	if pressed && st.Grab.Active && !r.implicit {
		// An explicit grab (a popup, usually) is dismissed by pressing
		// outside the grabbing surface's tree.
		hit, _, ok := r.store.SurfaceAt(st.PointerPos)
		if !ok || !r.descends(hit, st.Grab.Surface) {
			grabbed := st.Grab.Surface
			r.store.ClearGrab(r.seat)
			if r.OnDismiss != nil {
				r.OnDismiss(grabbed)
			}
			// Focus was pinned to the grab surface; re-resolve it so
			// the press lands on what is actually under the pointer.
			r.motion(time, st.PointerPos)
		}
	}

	sid := st.PointerFocus
	if st.Grab.Active {
		sid = st.Grab.Surface
	}
	if sid == 0 {
		return
	}

	if pressed {
		r.buttons++
		if r.buttons == 1 && !st.Grab.Active {
			// Implicit grab: the press locks pointer delivery to this
			// surface until the last button is released.
			if err := r.store.SetGrab(r.seat, sid); err == nil {
				r.implicit = true
			}
		}
		if r.OnActivate != nil {
			if top, ok := r.toplevelOf(sid); ok {
				r.OnActivate(top)
			}
		}
	} else if r.buttons > 0 {
		r.buttons--
		if r.buttons == 0 && r.implicit {
			r.store.ClearGrab(r.seat)
			r.implicit = false
		}
	}

	r.sink.PointerButton(sid, r.store.NextSerial(), time, btn, pressed)
}

func (r *Router) key(time, code uint32, pressed bool) {
	st := r.seatState()
	sid := st.KeyboardFocus
	if st.Grab.Active {
		sid = st.Grab.Surface
	}
	if sid == 0 {
		return
	}
	r.sink.Key(sid, r.store.NextSerial(), time, code, pressed)
}

// Activate makes sid the keyboard focus. Keyboard focus is sticky:
// nothing but this call (and surface destruction) moves it.
func (r *Router) Activate(sid state.SurfaceID) {
	st := r.seatState()
	if st.KeyboardFocus == sid {
		return
	}
	if st.KeyboardFocus != 0 {
		r.sink.KeyboardLeave(st.KeyboardFocus, r.store.NextSerial())
	}
	if err := r.store.SetKeyboardFocus(r.seat, sid); err != nil {
		return
	}
	if sid != 0 {
		r.sink.KeyboardEnter(sid, r.store.NextSerial())
	}
}

// descends reports whether sid is anc or one of its descendants.
func (r *Router) descends(sid, anc state.SurfaceID) bool {
	for sid != 0 {
		if sid == anc {
			return true
		}
		sf, ok := r.store.Surface(sid)
		if !ok {
			return false
		}
		sid = sf.Parent
	}
	return false
}

// toplevelOf walks up to the toplevel ancestor of sid.
func (r *Router) toplevelOf(sid state.SurfaceID) (state.SurfaceID, bool) {
	for sid != 0 {
		sf, ok := r.store.Surface(sid)
		if !ok {
			return 0, false
		}
		if sf.Role == state.RoleToplevel {
			return sid, true
		}
		sid = sf.Parent
	}
	return 0, false
}
