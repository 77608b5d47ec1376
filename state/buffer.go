package state

import (
	"image"
	"image/draw"
)

// Buffer is a reference-counted handle to client pixel storage. The
// surface currently displaying it and any in-flight frame each hold a
// reference; the release hook fires when the count drops to zero, at
// which point the client may reuse the storage.
type Buffer struct {
	ID     BufferID
	Client ClientID
	Size   image.Point

	// Image reads the buffer's pixels. For shm buffers this is a view
	// straight over the mmap'd pool, so it must only be read while a
	// reference is held.
	Image draw.Image

	// OnRelease is called exactly once each time the reference count
	// drops to zero, on the loop thread.
	OnRelease func()

	refs int
	dead bool
}

// Ref takes a reference on the buffer.
func (b *Buffer) Ref() {
	b.refs++
}

// Unref drops a reference. It reports whether this drop released the
// buffer back to the client.
func (b *Buffer) Unref() bool {
	if b.refs <= 0 {
		panic("state: buffer reference count underflow")
	}
	b.refs--
	if b.refs > 0 {
		return false
	}
	if b.OnRelease != nil && !b.dead {
		b.OnRelease()
	}
	return true
}

// InUse reports whether anything still holds a reference.
func (b *Buffer) InUse() bool {
	return b.refs > 0
}

// AddBuffer registers client pixel storage with the store.
func (s *Store) AddBuffer(c ClientID, img draw.Image, size image.Point) (BufferID, error) {
	if _, ok := s.clients[c]; !ok {
		return 0, stateErr(ErrUnknownClient, 0, "")
	}

	id := BufferID(s.nextID())
	s.buffers[id] = &Buffer{
		ID:     id,
		Client: c,
		Size:   size,
		Image:  img,
	}
	s.clients[c].buffers.Add(id)
	return id, nil
}

// DestroyBuffer handles the client destroying its buffer object. If
// the compositor still reads the buffer the entry stays until the
// last reference drops, but no release is delivered for it.
func (s *Store) DestroyBuffer(c ClientID, id BufferID) error {
	b, ok := s.buffers[id]
	if !ok {
		return stateErr(ErrUnknownBuffer, 0, "")
	}
	if b.Client != c {
		return stateErr(ErrClientMismatch, 0, "buffer belongs to another client")
	}

	b.dead = true
	b.OnRelease = nil
	if cl := s.clients[c]; cl != nil {
		cl.buffers.Delete(id)
	}
	if !b.InUse() {
		delete(s.buffers, id)
	}
	return nil
}

// ReleaseBuffer drops a frame's reference once its presentation
// completes. It goes through the store rather than the Buffer so an
// entry the client already destroyed is reaped when the last
// reference goes away.
func (s *Store) ReleaseBuffer(id BufferID) {
	s.unrefBuffer(id)
}

// Buffer looks up a buffer by id.
func (s *Store) Buffer(id BufferID) (*Buffer, bool) {
	b, ok := s.buffers[id]
	return b, ok
}

// unrefBuffer drops a reference on id if it is a live buffer and
// reaps dead buffers whose last reference went away.
func (s *Store) unrefBuffer(id BufferID) {
	if id == 0 {
		return
	}
	b, ok := s.buffers[id]
	if !ok {
		panic("state: unref of unknown buffer")
	}
	b.Unref()
	if b.dead && !b.InUse() {
		delete(s.buffers, id)
	}
}
