// Package wire implements the Wayland wire format: message framing,
// argument marshalling, and the Unix socket plumbing that carries it,
// including file descriptor passing. It is used by the protocol layer
// on the server side and by the nested backend when the compositor
// itself runs as a client of a host compositor.
package wire

// Object is a protocol object that can be the target of requests
// arriving on a connection.
type Object interface {
	// ID returns the object's protocol ID, or 0 if it has not been
	// added to a connection's object store yet.
	ID() uint32

	// SetID assigns the object's protocol ID. It is called once, by
	// the object store.
	SetID(uint32)

	// Interface returns the name of the protocol interface that the
	// object implements, e.g. "wl_surface".
	Interface() string

	// Dispatch performs the operation requested by the message in the
	// buffer.
	Dispatch(msg *MessageBuffer) error

	// Delete is called when the object is removed from its store.
	Delete()
}

// NewID is the wire representation of a new_id argument whose
// interface is not fixed by the protocol.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}

// padding returns the number of bytes needed to pad length up to a
// 32-bit boundary.
func padding(length uint32) uint32 {
	return (4 - length&3) & 3
}
