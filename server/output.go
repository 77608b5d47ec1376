package server

import (
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

const (
	outputReqRelease = 0

	outputEvtGeometry = 0
	outputEvtMode     = 1
	outputEvtDone     = 2
	outputEvtScale    = 3

	outputModeCurrent = 1
)

type outputObject struct {
	object
	client  *Client
	oid     state.OutputID
	version uint32
}

func bindOutput(c *Client, version, id uint32, oid state.OutputID) error {
	obj := &outputObject{client: c, oid: oid, version: version}
	obj.SetID(id)
	c.store.Add(obj)
	c.outputs[oid] = obj
	obj.describe()
	return nil
}

func (o *outputObject) Interface() string { return "wl_output" }

func (o *outputObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case outputReqRelease:
		delete(o.client.outputs, o.oid)
		o.client.destroyObject(o)
		return nil

	default:
		return invalidMethod(o, msg.Op())
	}
}

// describe sends the output's full description: geometry, the
// current mode in device pixels, and the scale factor.
func (o *outputObject) describe() {
	out, ok := o.client.server.store.Output(o.oid)
	if !ok {
		return
	}

	mb := wire.NewMessage(o, outputEvtGeometry)
	mb.Method = "geometry"
	mb.WriteInt(int32(out.Rect.Min.X))
	mb.WriteInt(int32(out.Rect.Min.Y))
	mb.WriteInt(0) // physical size unknown
	mb.WriteInt(0)
	mb.WriteInt(0) // subpixel unknown
	mb.WriteString("loon")
	mb.WriteString(out.Name)
	mb.WriteInt(int32(out.Transform))
	o.client.send(mb)

	px := out.PixelSize()
	mb = wire.NewMessage(o, outputEvtMode)
	mb.Method = "mode"
	mb.WriteUint(outputModeCurrent)
	mb.WriteInt(int32(px.X))
	mb.WriteInt(int32(px.Y))
	mb.WriteInt(int32(out.RefreshMHz))
	o.client.send(mb)

	if o.version >= 2 {
		mb = wire.NewMessage(o, outputEvtScale)
		mb.Method = "scale"
		mb.WriteInt(int32(out.Scale))
		o.client.send(mb)

		mb = wire.NewMessage(o, outputEvtDone)
		mb.Method = "done"
		o.client.send(mb)
	}
}

// OutputChanged resends the description of a changed output to every
// client that bound it.
func (s *Server) OutputChanged(oid state.OutputID) {
	for client := range s.clients {
		if o := client.outputs[oid]; o != nil {
			o.describe()
		}
	}
}
