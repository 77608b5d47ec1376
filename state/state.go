// Package state holds the compositor's single authoritative model of
// clients, surfaces, buffers, outputs, and seats. All mutation goes
// through the typed operations on Store; everything else in the
// compositor either feeds those operations or reads snapshots.
//
// Entities refer to each other by integer ID only. In particular the
// surface parent/child relation is id-based in both directions, so
// destroying a surface cascades by lookup instead of by ownership.
package state

import "image"

type (
	ClientID  uint64
	SurfaceID uint64
	BufferID  uint64
	OutputID  uint64
	SeatID    uint64
)

// Role is the role a surface has been assigned, if any. A surface
// gets at most one role in its lifetime.
type Role uint8

const (
	RoleNone Role = iota
	RoleToplevel
	RolePopup
	RoleCursor
	RoleSubsurface
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleToplevel:
		return "toplevel"
	case RolePopup:
		return "popup"
	case RoleCursor:
		return "cursor"
	case RoleSubsurface:
		return "subsurface"
	}
	return "invalid"
}

// ConfigureState tracks a shell surface's configure cycle.
//
//	Unconfigured -> ConfigureSent -> AckPending -> Configured
//
// ConfigureSent means a configure event is on its way to the client.
// AckPending means the client has acknowledged it and the commit that
// realizes the acked state is still outstanding. Configured means the
// last acked configuration has been committed.
type ConfigureState uint8

const (
	Unconfigured ConfigureState = iota
	ConfigureSent
	AckPending
	Configured
)

func (c ConfigureState) String() string {
	switch c {
	case Unconfigured:
		return "unconfigured"
	case ConfigureSent:
		return "configure-sent"
	case AckPending:
		return "ack-pending"
	case Configured:
		return "configured"
	}
	return "invalid"
}

// PointRect returns the rectangle of size sz whose top-left corner is
// at pos.
func PointRect(pos, sz image.Point) image.Rectangle {
	return image.Rectangle{Min: pos, Max: pos.Add(sz)}
}
