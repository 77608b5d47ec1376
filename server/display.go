package server

import "lagoon.dev/loon/wire"

// object is the common identity part of every protocol object.
type object struct {
	id uint32
}

func (o *object) ID() uint32      { return o.id }
func (o *object) SetID(id uint32) { o.id = id }
func (o *object) Delete()         {}

const (
	displayReqSync        = 0
	displayReqGetRegistry = 1

	displayEvtError    = 0
	displayEvtDeleteID = 1
)

// displayObject is wl_display, the object every connection starts
// with at ID 1.
type displayObject struct {
	object
	client *Client
}

func (d *displayObject) Interface() string { return "wl_display" }

func (d *displayObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case displayReqSync:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		cb := &callbackObject{client: d.client}
		cb.SetID(id)
		d.client.store.Add(cb)
		cb.done(d.client.server.store.NextSerial())
		return nil

	case displayReqGetRegistry:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		reg := &registryObject{client: d.client}
		reg.SetID(id)
		d.client.store.Add(reg)
		d.client.registries = append(d.client.registries, reg)
		for _, g := range d.client.server.globalList() {
			reg.global(g)
		}
		return nil

	default:
		return invalidMethod(d, msg.Op())
	}
}

const (
	registryReqBind = 0

	registryEvtGlobal       = 0
	registryEvtGlobalRemove = 1
)

type registryObject struct {
	object
	client *Client
}

func (r *registryObject) Interface() string { return "wl_registry" }

func (r *registryObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case registryReqBind:
		name := msg.ReadUint()
		nid := msg.ReadNewID()
		if err := msg.Err(); err != nil {
			return err
		}

		g := r.client.server.globals[name]
		if g == nil {
			return protoErr(r, errInvalidObject, "bind to unknown global %v", name)
		}
		if nid.Interface != g.iface {
			return protoErr(r, errInvalidObject, "global %v is %v, not %v", name, g.iface, nid.Interface)
		}
		if nid.Version == 0 || nid.Version > g.version {
			return protoErr(r, errInvalidObject, "global %v supports versions 1 through %v, not %v", name, g.version, nid.Version)
		}
		return g.bind(r.client, nid.Version, nid.ID)

	default:
		return invalidMethod(r, msg.Op())
	}
}

// global announces one global to this registry.
func (r *registryObject) global(g *global) {
	mb := wire.NewMessage(r, registryEvtGlobal)
	mb.Method = "global"
	mb.WriteUint(g.name)
	mb.WriteString(g.iface)
	mb.WriteUint(g.version)
	r.client.send(mb)
}

func (r *registryObject) globalRemove(name uint32) {
	mb := wire.NewMessage(r, registryEvtGlobalRemove)
	mb.Method = "global_remove"
	mb.WriteUint(name)
	r.client.send(mb)
}

const callbackEvtDone = 0

// callbackObject is wl_callback, used for sync and frame callbacks.
// It fires once and is gone.
type callbackObject struct {
	object
	client *Client
}

func (cb *callbackObject) Interface() string { return "wl_callback" }

func (cb *callbackObject) Dispatch(msg *wire.MessageBuffer) error {
	return invalidMethod(cb, msg.Op())
}

func (cb *callbackObject) done(data uint32) {
	mb := wire.NewMessage(cb, callbackEvtDone)
	mb.Method = "done"
	mb.WriteUint(data)
	cb.client.send(mb)
	cb.client.destroyObject(cb)
}
