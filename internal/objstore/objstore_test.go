package objstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/internal/objstore"
	"lagoon.dev/loon/wire"
)

type obj struct {
	id      uint32
	deleted bool
}

func (o *obj) ID() uint32        { return o.id }
func (o *obj) SetID(id uint32)   { o.id = id }
func (o *obj) Interface() string { return "test" }
func (o *obj) Delete()           { o.deleted = true }

func (o *obj) Dispatch(msg *wire.MessageBuffer) error { return nil }

func TestAddAssignsServerIDs(t *testing.T) {
	s := objstore.New(0xFF000000)

	a, b := &obj{}, &obj{}
	s.Add(a)
	s.Add(b)
	assert.EqualValues(t, 0xFF000000, a.id)
	assert.EqualValues(t, 0xFF000001, b.id)

	// Client-allocated IDs are kept as they are.
	c := &obj{id: 7}
	s.Add(c)
	assert.Same(t, c, s.Get(7))
}

func TestDeleteCallsHook(t *testing.T) {
	s := objstore.New(0xFF000000)
	o := &obj{id: 3}
	s.Add(o)

	s.Delete(3)
	assert.True(t, o.deleted)
	assert.Nil(t, s.Get(3))

	s.Delete(3) // deleting again is fine
}

func TestDispatchUnknownSender(t *testing.T) {
	s := objstore.New(0xFF000000)

	var msg wire.MessageBuffer
	err := s.Dispatch(&msg)
	var unk wire.UnknownSenderIDError
	require.ErrorAs(t, err, &unk)
}
