package state

import "fmt"

// ErrorCode classifies a failed store operation. Every code maps to a
// protocol-level error sent to the offending client; none of them
// terminate the compositor.
type ErrorCode int

const (
	ErrUnknownSurface ErrorCode = iota
	ErrUnknownBuffer
	ErrUnknownOutput
	ErrUnknownSeat
	ErrUnknownClient
	ErrClientMismatch
	ErrInvalidRoleTransition
	ErrInvalidParent
	ErrBufferSizeMismatch
	ErrInvalidAck
)

func (c ErrorCode) String() string {
	switch c {
	case ErrUnknownSurface:
		return "unknown surface"
	case ErrUnknownBuffer:
		return "unknown buffer"
	case ErrUnknownOutput:
		return "unknown output"
	case ErrUnknownSeat:
		return "unknown seat"
	case ErrUnknownClient:
		return "unknown client"
	case ErrClientMismatch:
		return "client mismatch"
	case ErrInvalidRoleTransition:
		return "invalid role transition"
	case ErrInvalidParent:
		return "invalid parent"
	case ErrBufferSizeMismatch:
		return "buffer size mismatch"
	case ErrInvalidAck:
		return "invalid ack"
	}
	return "invalid error code"
}

// Error is returned by store operations given requests that violate
// the store's invariants. It carries enough context for the protocol
// layer to address a precise error event to the offending client.
type Error struct {
	Code    ErrorCode
	Surface SurfaceID
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (surface %v)", e.Code, e.Surface)
	}
	return fmt.Sprintf("%v (surface %v): %v", e.Code, e.Surface, e.Detail)
}

func stateErr(code ErrorCode, s SurfaceID, detail string) *Error {
	return &Error{Code: code, Surface: s, Detail: detail}
}
