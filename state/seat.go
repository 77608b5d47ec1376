package state

import "image"

// SeatCapability is a bitmask of the input devices a seat offers.
type SeatCapability uint32

const (
	CapPointer SeatCapability = 1 << iota
	CapKeyboard
	CapTouch
)

// Grab records temporary exclusive routing of a seat's input to one
// surface, e.g. during an interactive resize or while a popup is
// open.
type Grab struct {
	Active  bool
	Surface SurfaceID
	Client  ClientID
}

// Seat is a bundle of input capabilities plus focus and grab state.
type Seat struct {
	ID   SeatID
	Name string
	Caps SeatCapability

	PointerFocus  SurfaceID
	KeyboardFocus SurfaceID
	PointerPos    image.Point // layout coordinates
	Grab          Grab

	// Cursor is the surface drawn at the pointer position, with
	// CursorHot as its hotspot offset.
	Cursor    SurfaceID
	CursorHot image.Point
}

// AddSeat registers a seat.
func (s *Store) AddSeat(name string, caps SeatCapability) SeatID {
	id := SeatID(s.nextID())
	s.seats[id] = &Seat{ID: id, Name: name, Caps: caps}
	return id
}

// Seat looks up a seat by id.
func (s *Store) Seat(id SeatID) (*Seat, bool) {
	st, ok := s.seats[id]
	return st, ok
}

// SetPointerFocus moves the seat's pointer focus.
func (s *Store) SetPointerFocus(seat SeatID, sid SurfaceID) error {
	st, ok := s.seats[seat]
	if !ok {
		return stateErr(ErrUnknownSeat, sid, "")
	}
	if sid != 0 {
		if _, ok := s.surfaces[sid]; !ok {
			return stateErr(ErrUnknownSurface, sid, "")
		}
	}
	st.PointerFocus = sid
	return nil
}

// SetKeyboardFocus moves the seat's keyboard focus. Keyboard focus is
// sticky: the input router only calls this on explicit activation,
// never on pointer motion.
func (s *Store) SetKeyboardFocus(seat SeatID, sid SurfaceID) error {
	st, ok := s.seats[seat]
	if !ok {
		return stateErr(ErrUnknownSeat, sid, "")
	}
	if sid != 0 {
		if _, ok := s.surfaces[sid]; !ok {
			return stateErr(ErrUnknownSurface, sid, "")
		}
	}
	st.KeyboardFocus = sid
	return nil
}

// SetPointerPos records the seat's pointer position in layout
// coordinates.
func (s *Store) SetPointerPos(seat SeatID, p image.Point) {
	if st, ok := s.seats[seat]; ok {
		st.PointerPos = p
	}
}

// SetGrab starts exclusive input routing to sid for the seat.
func (s *Store) SetGrab(seat SeatID, sid SurfaceID) error {
	st, ok := s.seats[seat]
	if !ok {
		return stateErr(ErrUnknownSeat, sid, "")
	}
	sf, ok := s.surfaces[sid]
	if !ok {
		return stateErr(ErrUnknownSurface, sid, "")
	}
	st.Grab = Grab{Active: true, Surface: sid, Client: sf.Client}
	return nil
}

// ClearGrab ends the seat's grab, if any.
func (s *Store) ClearGrab(seat SeatID) {
	if st, ok := s.seats[seat]; ok {
		st.Grab = Grab{}
	}
}

// SetCursor makes sid the seat's cursor surface. sid 0 hides the
// cursor.
func (s *Store) SetCursor(seat SeatID, sid SurfaceID, hot image.Point) error {
	st, ok := s.seats[seat]
	if !ok {
		return stateErr(ErrUnknownSeat, sid, "")
	}
	if sid != 0 {
		if _, ok := s.surfaces[sid]; !ok {
			return stateErr(ErrUnknownSurface, sid, "")
		}
	}
	st.Cursor = sid
	st.CursorHot = hot
	return nil
}

// clearSurfaceFromSeats drops every focus or grab reference to sid.
// Called as part of surface destruction, in the same operation, so
// seats never point at dead surfaces.
func (s *Store) clearSurfaceFromSeats(sid SurfaceID) {
	for _, st := range s.seats {
		if st.PointerFocus == sid {
			st.PointerFocus = 0
		}
		if st.KeyboardFocus == sid {
			st.KeyboardFocus = 0
		}
		if st.Grab.Active && st.Grab.Surface == sid {
			st.Grab = Grab{}
		}
		if st.Cursor == sid {
			st.Cursor = 0
		}
	}
}
