package server

import (
	"image"
	"slices"

	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

const (
	surfaceReqDestroy         = 0
	surfaceReqAttach          = 1
	surfaceReqDamage          = 2
	surfaceReqFrame           = 3
	surfaceReqSetOpaqueRegion = 4
	surfaceReqSetInputRegion  = 5
	surfaceReqCommit          = 6
	surfaceReqSetTransform    = 7
	surfaceReqSetScale        = 8
	surfaceReqDamageBuffer    = 9

	surfaceEvtEnter = 0
	surfaceEvtLeave = 1
)

type surfaceObject struct {
	object
	client *Client
	sid    state.SurfaceID

	// frames holds frame callbacks requested since the last commit;
	// commit moves them to scheduled, which FrameDone drains.
	frames    []*callbackObject
	scheduled []*callbackObject

	// on tracks the outputs the surface was last seen on, for enter
	// and leave events.
	on []state.OutputID

	xdg *xdgSurfaceObject
	sub *subsurfaceObject
}

func (sf *surfaceObject) Interface() string { return "wl_surface" }

func (sf *surfaceObject) Dispatch(msg *wire.MessageBuffer) error {
	c := sf.client
	store := c.server.store

	switch msg.Op() {
	case surfaceReqDestroy:
		res, err := store.DestroySurface(c.id, sf.sid)
		if err != nil {
			return wrap(sf, err)
		}
		c.server.tracker.MarkLayout(res.Layout)
		c.server.sched.DropSurface(sf.sid)
		delete(c.server.surfaces, sf.sid)
		c.destroyObject(sf)
		return nil

	case surfaceReqAttach:
		id := msg.ReadUint()
		msg.ReadInt() // attach offsets are not supported
		msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		var bid state.BufferID
		if id != 0 {
			bo, ok := c.store.Get(id).(*bufferObject)
			if !ok {
				return protoErr(sf, errInvalidObject, "object %v is not a wl_buffer", id)
			}
			bid = bo.bid
		}
		return wrap(sf, store.AttachBuffer(c.id, sf.sid, bid))

	case surfaceReqDamage, surfaceReqDamageBuffer:
		// Identical at buffer scale 1.
		r := readRect(msg)
		if err := msg.Err(); err != nil {
			return err
		}
		return wrap(sf, store.DamagePending(c.id, sf.sid, r))

	case surfaceReqFrame:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		cb := &callbackObject{client: c}
		cb.SetID(id)
		c.store.Add(cb)
		sf.frames = append(sf.frames, cb)
		return nil

	case surfaceReqSetOpaqueRegion:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		rg, err := resolveRegion(c, sf, id)
		if err != nil {
			return err
		}
		return wrap(sf, store.SetOpaqueRegion(c.id, sf.sid, rg))

	case surfaceReqSetInputRegion:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		rg, err := resolveRegion(c, sf, id)
		if err != nil {
			return err
		}
		return wrap(sf, store.SetInputRegion(c.id, sf.sid, rg, id != 0))

	case surfaceReqCommit:
		return sf.commit()

	case surfaceReqSetTransform, surfaceReqSetScale:
		// Only the identity transform at buffer scale 1 is supported;
		// anything else would render wrong.
		v := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		want := int32(0)
		if msg.Op() == surfaceReqSetScale {
			want = 1
		}
		if v != want {
			return protoErr(sf, errImplementation, "unsupported buffer transform or scale %v", v)
		}
		return nil

	default:
		return invalidMethod(sf, msg.Op())
	}
}

func (sf *surfaceObject) commit() error {
	c := sf.client
	store := c.server.store

	res, err := store.CommitSurface(c.id, sf.sid)
	if err != nil {
		return wrap(sf, err)
	}
	c.server.tracker.Mark(sf.sid, res.Damage)

	if len(sf.frames) > 0 {
		sf.scheduled = append(sf.scheduled, sf.frames...)
		sf.frames = nil
		c.server.sched.RequestFrame(sf.sid)
	}

	if sf.xdg != nil {
		sf.xdg.afterCommit()
	}
	sf.updateOutputs()
	return nil
}

// updateOutputs sends enter and leave as the set of outputs showing
// the surface changes.
func (sf *surfaceObject) updateOutputs() {
	now := sf.client.server.store.OutputsOf(sf.sid)

	for _, oid := range sf.on {
		if !slices.Contains(now, oid) {
			sf.outputEvent(surfaceEvtLeave, "leave", oid)
		}
	}
	for _, oid := range now {
		if !slices.Contains(sf.on, oid) {
			sf.outputEvent(surfaceEvtEnter, "enter", oid)
		}
	}
	sf.on = now
}

func (sf *surfaceObject) outputEvent(op uint16, method string, oid state.OutputID) {
	oo := sf.client.outputs[oid]
	if oo == nil {
		return
	}
	mb := wire.NewMessage(sf, op)
	mb.Method = method
	mb.WriteObject(oo)
	sf.client.send(mb)
}

// position is a convenience for role code that stages a move.
func (sf *surfaceObject) position(p image.Point) error {
	return sf.client.server.store.SetPendingPosition(sf.client.id, sf.sid, p)
}
