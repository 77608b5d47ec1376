package server

import (
	"image"

	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/wire"
)

const (
	compositorReqCreateSurface = 0
	compositorReqCreateRegion  = 1
)

type compositorObject struct {
	object
	client *Client
}

func bindCompositor(c *Client, version, id uint32) error {
	obj := &compositorObject{client: c}
	obj.SetID(id)
	c.store.Add(obj)
	return nil
}

func (co *compositorObject) Interface() string { return "wl_compositor" }

func (co *compositorObject) Dispatch(msg *wire.MessageBuffer) error {
	c := co.client
	switch msg.Op() {
	case compositorReqCreateSurface:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		sid, err := c.server.store.CreateSurface(c.id)
		if err != nil {
			return wrap(co, err)
		}
		sf := &surfaceObject{client: c, sid: sid}
		sf.SetID(id)
		c.store.Add(sf)
		c.server.surfaces[sid] = sf
		return nil

	case compositorReqCreateRegion:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		rg := &regionObject{client: c}
		rg.SetID(id)
		c.store.Add(rg)
		return nil

	default:
		return invalidMethod(co, msg.Op())
	}
}

const (
	regionReqDestroy  = 0
	regionReqAdd      = 1
	regionReqSubtract = 2
)

// regionObject is wl_region: a client-built region that gets
// snapshotted when it is handed to a surface request.
type regionObject struct {
	object
	client *Client
	region region.Region
}

func (rg *regionObject) Interface() string { return "wl_region" }

func (rg *regionObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case regionReqDestroy:
		rg.client.destroyObject(rg)
		return nil

	case regionReqAdd:
		r := readRect(msg)
		if err := msg.Err(); err != nil {
			return err
		}
		rg.region = rg.region.Add(r)
		return nil

	case regionReqSubtract:
		r := readRect(msg)
		if err := msg.Err(); err != nil {
			return err
		}
		rg.region = rg.region.Subtract(r)
		return nil

	default:
		return invalidMethod(rg, msg.Op())
	}
}

func readRect(msg *wire.MessageBuffer) image.Rectangle {
	x, y := msg.ReadInt(), msg.ReadInt()
	w, h := msg.ReadInt(), msg.ReadInt()
	return image.Rect(int(x), int(y), int(x+w), int(y+h))
}

// resolveRegion fetches the region argument of a surface request. ID
// 0 is the null region.
func resolveRegion(c *Client, obj wire.Object, id uint32) (region.Region, error) {
	if id == 0 {
		return nil, nil
	}
	rg, ok := c.store.Get(id).(*regionObject)
	if !ok {
		return nil, protoErr(obj, errInvalidObject, "object %v is not a wl_region", id)
	}
	return rg.region.Clone(), nil
}
