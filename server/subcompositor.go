package server

import (
	"image"

	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

const (
	subcompositorReqDestroy       = 0
	subcompositorReqGetSubsurface = 1

	subcompositorErrBadSurface = 0
)

type subcompositorObject struct {
	object
	client *Client
}

func bindSubcompositor(c *Client, version, id uint32) error {
	obj := &subcompositorObject{client: c}
	obj.SetID(id)
	c.store.Add(obj)
	return nil
}

func (sc *subcompositorObject) Interface() string { return "wl_subcompositor" }

func (sc *subcompositorObject) Dispatch(msg *wire.MessageBuffer) error {
	c := sc.client
	switch msg.Op() {
	case subcompositorReqDestroy:
		c.destroyObject(sc)
		return nil

	case subcompositorReqGetSubsurface:
		id := msg.ReadUint()
		surface := msg.ReadUint()
		parent := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		sf, ok := c.store.Get(surface).(*surfaceObject)
		if !ok {
			return protoErr(sc, subcompositorErrBadSurface, "object %v is not a wl_surface", surface)
		}
		pf, ok := c.store.Get(parent).(*surfaceObject)
		if !ok {
			return protoErr(sc, subcompositorErrBadSurface, "object %v is not a wl_surface", parent)
		}
		if err := c.server.store.AssignRole(c.id, sf.sid, state.RoleSubsurface, pf.sid); err != nil {
			return wrap(sc, err)
		}

		sub := &subsurfaceObject{client: c, sf: sf, sid: sf.sid}
		sub.SetID(id)
		c.store.Add(sub)
		sf.sub = sub
		return nil

	default:
		return invalidMethod(sc, msg.Op())
	}
}

const (
	subsurfaceReqDestroy    = 0
	subsurfaceReqSetPos     = 1
	subsurfaceReqPlaceAbove = 2
	subsurfaceReqPlaceBelow = 3
	subsurfaceReqSetSync    = 4
	subsurfaceReqSetDesync  = 5
)

type subsurfaceObject struct {
	object
	client *Client
	sf     *surfaceObject
	sid    state.SurfaceID
}

func (ss *subsurfaceObject) Interface() string { return "wl_subsurface" }

func (ss *subsurfaceObject) Dispatch(msg *wire.MessageBuffer) error {
	c := ss.client
	switch msg.Op() {
	case subsurfaceReqDestroy:
		dmg, err := c.server.store.Unmap(c.id, ss.sid)
		if err != nil {
			return wrap(ss, err)
		}
		c.server.tracker.MarkLayout(dmg)
		ss.sf.sub = nil
		ss.sf.updateOutputs()
		c.destroyObject(ss)
		return nil

	case subsurfaceReqSetPos:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		return wrap(ss, ss.sf.position(image.Pt(int(x), int(y))))

	case subsurfaceReqPlaceAbove, subsurfaceReqPlaceBelow:
		sibling := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		so, ok := c.store.Get(sibling).(*surfaceObject)
		if !ok {
			return protoErr(ss, subcompositorErrBadSurface, "object %v is not a wl_surface", sibling)
		}
		above := msg.Op() == subsurfaceReqPlaceAbove
		if err := c.server.store.Restack(c.id, ss.sid, so.sid, above); err != nil {
			return wrap(ss, err)
		}
		if st, ok := c.server.store.Surface(ss.sid); ok && st.Mapped {
			pos, _ := c.server.store.AbsolutePosition(ss.sid)
			c.server.tracker.MarkLayout(region.FromRect(state.PointRect(pos, st.Current.Size)))
		}
		return nil

	case subsurfaceReqSetSync, subsurfaceReqSetDesync:
		// Subsurfaces always commit independently here.
		return nil

	default:
		return invalidMethod(ss, msg.Op())
	}
}
