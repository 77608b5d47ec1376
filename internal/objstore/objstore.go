// Package objstore keeps track of the protocol objects belonging to
// a single connection.
package objstore

import "lagoon.dev/loon/wire"

type Store struct {
	objects map[uint32]wire.Object
	nextID  uint32
}

// New returns a Store that assigns server-allocated object IDs
// starting at start. Client-allocated IDs live below that range.
func New(start uint32) *Store {
	return &Store{
		objects: make(map[uint32]wire.Object),
		nextID:  start,
	}
}

func (s *Store) Add(obj wire.Object) {
	id := obj.ID()
	if id == 0 {
		id = s.nextID
		obj.SetID(id)
		s.nextID++
	}

	s.objects[id] = obj
}

func (s *Store) Get(id uint32) wire.Object {
	return s.objects[id]
}

func (s *Store) Delete(id uint32) {
	obj := s.objects[id]
	delete(s.objects, id)
	if obj != nil {
		obj.Delete()
	}
}

// Dispatch routes msg to the object that it is addressed to.
func (s *Store) Dispatch(msg *wire.MessageBuffer) error {
	obj := s.objects[msg.Sender()]
	if obj == nil {
		return wire.UnknownSenderIDError{Msg: msg}
	}
	return obj.Dispatch(msg)
}

// All calls f for every object currently in the store.
func (s *Store) All(f func(wire.Object)) {
	for _, obj := range s.objects {
		f(obj)
	}
}
