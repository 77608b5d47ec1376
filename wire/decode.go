package wire

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"lagoon.dev/loon/internal/bin"
)

// MessageBuffer holds message data that has been read from the socket
// but not yet decoded. The Read methods decode arguments in order;
// the first decoding error sticks and subsequent reads are no-ops.
type MessageBuffer struct {
	sender  uint32
	op      uint16
	size    uint16
	data    bytes.Reader
	fds     []int
	fdindex int
	err     error
}

// Sender is the object ID of the sender of the message.
func (r *MessageBuffer) Sender() uint32 {
	return r.sender
}

// Op is the opcode of the message.
func (r *MessageBuffer) Op() uint16 {
	return r.op
}

// Size is the total size of the message, including the 8 byte header.
func (r *MessageBuffer) Size() uint16 {
	return r.size
}

// Err returns the first error encountered while decoding arguments,
// if any. A message whose arguments were shorter than its declared
// size yields io.ErrUnexpectedEOF.
func (r *MessageBuffer) Err() error {
	if errors.Is(r.err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return r.err
}

// Discard closes any file descriptors that arrived with the message
// but were never claimed by ReadFile. It is called for messages that
// fail to dispatch so that fds do not leak.
func (r *MessageBuffer) Discard() {
	for _, fd := range r.fds[r.fdindex:] {
		os.NewFile(uintptr(fd), "").Close()
	}
	r.fdindex = len(r.fds)
}

func (r *MessageBuffer) ReadInt() (v int32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[int32](&r.data)
	return v
}

func (r *MessageBuffer) ReadUint() (v uint32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[uint32](&r.data)
	return v
}

func (r *MessageBuffer) ReadFixed() (v Fixed) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[Fixed](&r.data)
	return v
}

// ReadNewID reads a new_id argument whose interface is not specified
// by the protocol, i.e. an interface name and version followed by the
// ID itself.
func (r *MessageBuffer) ReadNewID() NewID {
	return NewID{
		Interface: r.ReadString(),
		Version:   r.ReadUint(),
		ID:        r.ReadUint(),
	}
}

func (r *MessageBuffer) ReadString() string {
	length := r.ReadUint()
	if r.err != nil {
		return ""
	}
	if length == 0 {
		r.err = errors.New("zero-length string")
		return ""
	}
	pad := padding(length)

	var str strings.Builder
	str.Grow(int(length + pad))
	_, r.err = io.CopyN(&str, &r.data, int64(length+pad))
	if r.err != nil {
		return ""
	}
	v := str.String()
	if v[length-1] != 0 {
		r.err = errors.New("string is not null-terminated")
		return ""
	}

	return v[:length-1]
}

func (r *MessageBuffer) ReadArray() []byte {
	length := r.ReadUint()
	if r.err != nil {
		return nil
	}
	pad := padding(length)

	buf := make([]byte, length+pad)
	_, r.err = io.ReadFull(&r.data, buf)
	if r.err != nil {
		return nil
	}

	return buf[:length]
}

// ReadFile claims the next file descriptor that arrived with the
// message. Ownership of the descriptor passes to the caller.
func (r *MessageBuffer) ReadFile() *os.File {
	if r.err != nil {
		return nil
	}

	if r.fdindex >= len(r.fds) {
		r.err = errors.New("no more file descriptors")
		return nil
	}

	f := os.NewFile(uintptr(r.fds[r.fdindex]), "")
	r.fdindex++
	return f
}
