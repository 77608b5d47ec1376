package state

import (
	"image"

	"lagoon.dev/loon/internal/region"
)

// SurfaceState is the part of a surface that is double-buffered: the
// client builds up a pending copy with requests and a commit swaps it
// in atomically.
type SurfaceState struct {
	Buffer   BufferID    // 0 = no buffer
	Position image.Point // relative to parent, or to the layout for toplevels
	Size     image.Point // derived from the committed buffer
	Opaque   region.Region
	Input    region.Region
	InputSet bool // Input was set explicitly; an explicitly empty region accepts no input at all
}

// Pending is the uncommitted state of a surface plus flags recording
// which fields the client actually touched, so that a commit only
// applies what was set.
type Pending struct {
	Buffer      BufferID
	Attached    bool
	Position    image.Point
	PositionSet bool
	Opaque      region.Region
	OpaqueSet   bool
	Input       region.Region
	InputIsSet  bool
	InputSet    bool
	Damage      region.Region
}

// Surface is the fundamental paintable unit.
type Surface struct {
	ID      SurfaceID
	Client  ClientID
	Role    Role
	Current SurfaceState
	Pending Pending

	// Z orders sibling toplevels; larger is closer to the viewer.
	// Assigned from a monotonic stamp, so insertion order breaks ties.
	Z uint64

	Parent   SurfaceID
	Children []SurfaceID // insertion order; later entries paint above earlier ones

	Configure   ConfigureState
	SentSerial  uint32
	AckedSerial uint32
	SentSize    image.Point
	AckedSize   image.Point

	// Mapped surfaces have a committed buffer and take part in
	// rendering and hit testing.
	Mapped bool
}

// Bounds returns the surface-local rectangle covered by the current
// buffer.
func (sf *Surface) Bounds() image.Rectangle {
	return image.Rectangle{Max: sf.Current.Size}
}

// AcceptsInputAt reports whether the surface-local point p is inside
// the surface's effective input region.
func (sf *Surface) AcceptsInputAt(p image.Point) bool {
	if !p.In(sf.Bounds()) {
		return false
	}
	if sf.Current.InputSet {
		return sf.Current.Input.Contains(p)
	}
	return true
}
