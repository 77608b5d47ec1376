package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"lagoon.dev/loon/internal/ev"
	"lagoon.dev/loon/internal/objstore"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/shm"
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

// serverIDStart is the bottom of the server-allocated object ID
// range. Client-allocated IDs live below it.
const serverIDStart = 0xFF000000

// Client is one connection's protocol state: its objects, its
// request queue, and the pools it has shared.
type Client struct {
	server *Server
	done   chan struct{}
	close  sync.Once
	conn   *wire.Conn
	id     state.ClientID
	store  *objstore.Store
	queue  *ev.Queue
	log    *log.Logger

	display    *displayObject
	registries []*registryObject
	pointers   []*pointerObject
	keyboards  []*keyboardObject
	wmBases    []*wmBaseObject
	outputs    map[state.OutputID]*outputObject
	pools      []shm.Mmap
}

func newClient(server *Server, conn *wire.Conn) *Client {
	client := Client{
		server:  server,
		done:    make(chan struct{}),
		conn:    conn,
		id:      server.store.AddClient(),
		store:   objstore.New(serverIDStart),
		queue:   ev.NewQueue(),
		log:     wlog.Component("server"),
		outputs: make(map[state.OutputID]*outputObject),
	}

	client.display = &displayObject{client: &client}
	client.display.SetID(1)
	client.store.Add(client.display)

	go client.listen()

	return &client
}

func (c *Client) listen() {
	defer c.kill()

	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		select {
		case <-c.done:
			return
		case c.queue.Add() <- func() error { return c.dispatch(msg) }:
		}
	}
}

func (c *Client) dispatch(msg *wire.MessageBuffer) error {
	err := c.store.Dispatch(msg)
	msg.Discard()
	if err != nil {
		c.abort(msg, err)
	}
	return err
}

// Flush processes the client's queued requests and sends its queued
// events. Must be called from the loop thread.
func (c *Client) Flush() error {
	select {
	case q := <-c.queue.Get():
		return q.Flush()
	default:
		return nil
	}
}

// send queues an event for delivery on the next Flush.
func (c *Client) send(mb *wire.MessageBuilder) {
	select {
	case <-c.done:
	case c.queue.Add() <- func() error { return c.conn.WriteMessage(mb) }:
	}
}

// abort handles a failed request: protocol violations are reported
// with wl_display.error, anything else just drops the connection.
// Either way the client is done; its resources are cleaned up by the
// server on the next Flush.
func (c *Client) abort(msg *wire.MessageBuffer, err error) {
	if c.dead() {
		return
	}

	var perr *protocolError
	var unk wire.UnknownSenderIDError
	switch {
	case errors.As(err, &perr):
		c.post(perr)
	case errors.As(err, &unk):
		c.post(&protocolError{
			object: msg.Sender(),
			code:   errInvalidObject,
			msg:    "unknown object",
		})
	default:
		c.log.Error("client failed", "client", c.id, "err", err)
		c.kill()
	}
}

// post sends wl_display.error and disconnects. The write is done
// directly: the queue will never be flushed for this client again.
func (c *Client) post(perr *protocolError) {
	c.log.Warn("protocol error", "client", c.id, "object", perr.object, "err", perr.msg)

	mb := wire.NewMessage(c.display, displayEvtError)
	mb.Method = "error"
	mb.WriteUint(perr.object)
	mb.WriteUint(perr.code)
	mb.WriteString(perr.msg)
	c.conn.WriteMessage(mb)

	c.kill()
}

func (c *Client) kill() {
	c.close.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) dead() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// cleanup tears down everything the client owned: its surfaces leave
// the scene graph and the seats, the area they covered is marked
// damaged, and its pool mappings are unmapped. Runs on the loop
// thread, exactly once, and never touches other clients.
func (c *Client) cleanup() {
	c.kill()

	var layout region.Region
	c.store.All(func(obj wire.Object) {
		sf, ok := obj.(*surfaceObject)
		if !ok {
			return
		}
		if st, ok := c.server.store.Surface(sf.sid); ok && st.Mapped {
			pos, _ := c.server.store.AbsolutePosition(sf.sid)
			layout = layout.Union(region.FromRect(state.PointRect(pos, st.Current.Size)))
		}
		delete(c.server.surfaces, sf.sid)
		c.server.sched.DropSurface(sf.sid)
	})

	c.server.store.RemoveClient(c.id)
	c.server.tracker.MarkLayout(layout)

	for _, m := range c.pools {
		m.Unmap()
	}
	c.pools = nil
}

// destroyObject removes a protocol object, telling the client its ID
// is free again if the ID was client-allocated.
func (c *Client) destroyObject(obj wire.Object) {
	id := obj.ID()
	if id < serverIDStart {
		mb := wire.NewMessage(c.display, displayEvtDeleteID)
		mb.Method = "delete_id"
		mb.WriteUint(id)
		c.send(mb)
	}
	c.store.Delete(id)
}

// protocolError is a client mistake that gets reported through
// wl_display.error before the connection is dropped.
type protocolError struct {
	object uint32
	code   uint32
	msg    string
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("protocol error on object %v: %v", e.object, e.msg)
}

// wl_display error codes.
const (
	errInvalidObject  = 0
	errInvalidMethod  = 1
	errNoMemory       = 2
	errImplementation = 3
)

func invalidMethod(obj wire.Object, op uint16) error {
	return &protocolError{
		object: obj.ID(),
		code:   errInvalidMethod,
		msg:    fmt.Sprintf("%v has no request %v", obj.Interface(), op),
	}
}

func protoErr(obj wire.Object, code uint32, format string, args ...any) error {
	return &protocolError{
		object: obj.ID(),
		code:   code,
		msg:    fmt.Sprintf(format, args...),
	}
}

// wrap turns a state layer error into a protocol error attributed to
// obj. Lookups that failed because the entity is unknown or owned by
// someone else report invalid_object; semantic violations report
// implementation.
func wrap(obj wire.Object, err error) error {
	if err == nil {
		return nil
	}
	var serr *state.Error
	if !errors.As(err, &serr) {
		return err
	}

	code := uint32(errImplementation)
	switch serr.Code {
	case state.ErrUnknownSurface, state.ErrUnknownBuffer, state.ErrUnknownOutput,
		state.ErrUnknownSeat, state.ErrUnknownClient, state.ErrClientMismatch:
		code = errInvalidObject
	}
	return &protocolError{object: obj.ID(), code: code, msg: serr.Error()}
}
