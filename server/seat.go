package server

import (
	"image"
	"os"

	"lagoon.dev/loon/input"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/internal/xslices"
	"lagoon.dev/loon/shm"
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

const (
	seatReqGetPointer  = 0
	seatReqGetKeyboard = 1
	seatReqGetTouch    = 2
	seatReqRelease     = 3

	seatEvtCapabilities = 0
	seatEvtName         = 1
)

type seatObject struct {
	object
	client  *Client
	version uint32
}

func bindSeat(c *Client, version, id uint32) error {
	obj := &seatObject{client: c, version: version}
	obj.SetID(id)
	c.store.Add(obj)

	st, ok := c.server.store.Seat(c.server.seat)
	if !ok {
		return nil
	}
	mb := wire.NewMessage(obj, seatEvtCapabilities)
	mb.Method = "capabilities"
	mb.WriteUint(uint32(st.Caps))
	c.send(mb)
	if version >= 2 {
		mb = wire.NewMessage(obj, seatEvtName)
		mb.Method = "name"
		mb.WriteString(st.Name)
		c.send(mb)
	}
	return nil
}

func (st *seatObject) Interface() string { return "wl_seat" }

func (st *seatObject) Dispatch(msg *wire.MessageBuffer) error {
	c := st.client
	switch msg.Op() {
	case seatReqGetPointer:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		p := &pointerObject{client: c, version: st.version}
		p.SetID(id)
		c.store.Add(p)
		c.pointers = append(c.pointers, p)
		return nil

	case seatReqGetKeyboard:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		kb := &keyboardObject{client: c, version: st.version}
		kb.SetID(id)
		c.store.Add(kb)
		c.keyboards = append(c.keyboards, kb)
		kb.keymap()
		return nil

	case seatReqGetTouch:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		// Touch contacts are folded into the pointer, so the touch
		// object itself never emits anything.
		t := &touchObject{client: c}
		t.SetID(id)
		c.store.Add(t)
		return nil

	case seatReqRelease:
		c.destroyObject(st)
		return nil

	default:
		return invalidMethod(st, msg.Op())
	}
}

const (
	pointerReqSetCursor = 0
	pointerReqRelease   = 1

	pointerEvtEnter  = 0
	pointerEvtLeave  = 1
	pointerEvtMotion = 2
	pointerEvtButton = 3
	pointerEvtFrame  = 5

	pointerErrRole = 0
)

type pointerObject struct {
	object
	client  *Client
	version uint32
}

func (p *pointerObject) Interface() string { return "wl_pointer" }

func (p *pointerObject) Dispatch(msg *wire.MessageBuffer) error {
	c := p.client
	switch msg.Op() {
	case pointerReqSetCursor:
		msg.ReadUint() // serial
		id := msg.ReadUint()
		hot := image.Pt(int(msg.ReadInt()), int(msg.ReadInt()))
		if err := msg.Err(); err != nil {
			return err
		}
		return p.setCursor(id, hot)

	case pointerReqRelease:
		c.pointers = xslices.Remove(c.pointers, p)
		c.destroyObject(p)
		return nil

	default:
		return invalidMethod(p, msg.Op())
	}
}

func (p *pointerObject) setCursor(id uint32, hot image.Point) error {
	c := p.client
	store := c.server.store

	if id == 0 {
		if err := store.SetCursor(c.server.seat, 0, image.Point{}); err != nil {
			return wrap(p, err)
		}
		c.server.markCursorArea()
		return nil
	}

	so, ok := c.store.Get(id).(*surfaceObject)
	if !ok {
		return protoErr(p, errInvalidObject, "object %v is not a wl_surface", id)
	}
	sf, ok := store.Surface(so.sid)
	if !ok {
		return protoErr(p, errInvalidObject, "cursor surface is gone")
	}
	switch sf.Role {
	case state.RoleNone:
		if err := store.AssignRole(c.id, so.sid, state.RoleCursor, 0); err != nil {
			return wrap(p, err)
		}
	case state.RoleCursor:
	default:
		return protoErr(p, pointerErrRole, "surface already has role %v", sf.Role)
	}

	if err := store.SetCursor(c.server.seat, so.sid, hot); err != nil {
		return wrap(p, err)
	}
	c.server.markCursorArea()
	return nil
}

func (p *pointerObject) enter(serial uint32, sf *surfaceObject, pos image.Point) {
	mb := wire.NewMessage(p, pointerEvtEnter)
	mb.Method = "enter"
	mb.WriteUint(serial)
	mb.WriteObject(sf)
	mb.WriteFixed(wire.FixedInt(pos.X))
	mb.WriteFixed(wire.FixedInt(pos.Y))
	p.client.send(mb)
	p.frame()
}

func (p *pointerObject) leave(serial uint32, sf *surfaceObject) {
	mb := wire.NewMessage(p, pointerEvtLeave)
	mb.Method = "leave"
	mb.WriteUint(serial)
	mb.WriteObject(sf)
	p.client.send(mb)
	p.frame()
}

func (p *pointerObject) motion(time uint32, pos image.Point) {
	mb := wire.NewMessage(p, pointerEvtMotion)
	mb.Method = "motion"
	mb.WriteUint(time)
	mb.WriteFixed(wire.FixedInt(pos.X))
	mb.WriteFixed(wire.FixedInt(pos.Y))
	p.client.send(mb)
	p.frame()
}

func (p *pointerObject) button(serial, time uint32, btn input.Button, pressed bool) {
	var st uint32
	if pressed {
		st = 1
	}
	mb := wire.NewMessage(p, pointerEvtButton)
	mb.Method = "button"
	mb.WriteUint(serial)
	mb.WriteUint(time)
	mb.WriteUint(uint32(btn))
	mb.WriteUint(st)
	p.client.send(mb)
	p.frame()
}

func (p *pointerObject) frame() {
	if p.version < 5 {
		return
	}
	mb := wire.NewMessage(p, pointerEvtFrame)
	mb.Method = "frame"
	p.client.send(mb)
}

const (
	keyboardReqRelease = 0

	keyboardEvtKeymap = 0
	keyboardEvtEnter  = 1
	keyboardEvtLeave  = 2
	keyboardEvtKey    = 3

	keymapFormatNone = 0
)

type keyboardObject struct {
	object
	client  *Client
	version uint32
}

func (kb *keyboardObject) Interface() string { return "wl_keyboard" }

func (kb *keyboardObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case keyboardReqRelease:
		kb.client.keyboards = xslices.Remove(kb.client.keyboards, kb)
		kb.client.destroyObject(kb)
		return nil

	default:
		return invalidMethod(kb, msg.Op())
	}
}

// keymap advertises that raw scancodes are delivered without a
// keymap. The protocol insists on a file even then.
func (kb *keyboardObject) keymap() {
	file, err := kb.client.server.keymapFile()
	if err != nil {
		kb.client.log.Error("create keymap file", "err", err)
		return
	}
	mb := wire.NewMessage(kb, keyboardEvtKeymap)
	mb.Method = "keymap"
	mb.WriteUint(keymapFormatNone)
	mb.WriteFile(file)
	mb.WriteUint(0)
	kb.client.send(mb)
}

func (kb *keyboardObject) enter(serial uint32, sf *surfaceObject) {
	mb := wire.NewMessage(kb, keyboardEvtEnter)
	mb.Method = "enter"
	mb.WriteUint(serial)
	mb.WriteObject(sf)
	mb.WriteArray(nil)
	kb.client.send(mb)
}

func (kb *keyboardObject) leave(serial uint32, sf *surfaceObject) {
	mb := wire.NewMessage(kb, keyboardEvtLeave)
	mb.Method = "leave"
	mb.WriteUint(serial)
	mb.WriteObject(sf)
	kb.client.send(mb)
}

func (kb *keyboardObject) key(serial, time, code uint32, pressed bool) {
	var st uint32
	if pressed {
		st = 1
	}
	mb := wire.NewMessage(kb, keyboardEvtKey)
	mb.Method = "key"
	mb.WriteUint(serial)
	mb.WriteUint(time)
	mb.WriteUint(code)
	mb.WriteUint(st)
	kb.client.send(mb)
}

const touchReqRelease = 0

type touchObject struct {
	object
	client *Client
}

func (t *touchObject) Interface() string { return "wl_touch" }

func (t *touchObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case touchReqRelease:
		t.client.destroyObject(t)
		return nil

	default:
		return invalidMethod(t, msg.Op())
	}
}

func (s *Server) keymapFile() (*os.File, error) {
	if s.keymap == nil {
		file, err := shm.Create(1)
		if err != nil {
			return nil, err
		}
		s.keymap = file
	}
	return s.keymap, nil
}

// markCursorArea damages the area around the pointer so the next
// frame redraws the cursor.
func (s *Server) markCursorArea() {
	st, ok := s.store.Seat(s.seat)
	if !ok {
		return
	}
	const reach = 256
	r := image.Rectangle{Min: st.PointerPos.Sub(image.Pt(reach, reach)), Max: st.PointerPos.Add(image.Pt(reach, reach))}
	s.tracker.MarkLayout(region.FromRect(r))
}

// The Server is the router's sink: routed input becomes seat events
// on the target surface's client.

func (s *Server) PointerEnter(sid state.SurfaceID, serial uint32, pos image.Point) {
	if sf := s.surfaces[sid]; sf != nil {
		for _, p := range sf.client.pointers {
			p.enter(serial, sf, pos)
		}
	}
}

func (s *Server) PointerLeave(sid state.SurfaceID, serial uint32) {
	if sf := s.surfaces[sid]; sf != nil {
		for _, p := range sf.client.pointers {
			p.leave(serial, sf)
		}
	}
}

func (s *Server) PointerMotion(sid state.SurfaceID, time uint32, pos image.Point) {
	if s.drag.active {
		s.dragMotion()
		return
	}
	if sf := s.surfaces[sid]; sf != nil {
		for _, p := range sf.client.pointers {
			p.motion(time, pos)
		}
	}
}

func (s *Server) PointerButton(sid state.SurfaceID, serial, time uint32, btn input.Button, pressed bool) {
	if s.drag.active {
		if !pressed {
			s.drag.active = false
		}
		return
	}
	if sf := s.surfaces[sid]; sf != nil {
		for _, p := range sf.client.pointers {
			p.button(serial, time, btn, pressed)
		}
	}
}

func (s *Server) KeyboardEnter(sid state.SurfaceID, serial uint32) {
	if sf := s.surfaces[sid]; sf != nil {
		for _, kb := range sf.client.keyboards {
			kb.enter(serial, sf)
		}
	}
}

func (s *Server) KeyboardLeave(sid state.SurfaceID, serial uint32) {
	if sf := s.surfaces[sid]; sf != nil {
		for _, kb := range sf.client.keyboards {
			kb.leave(serial, sf)
		}
	}
}

func (s *Server) Key(sid state.SurfaceID, serial, time, code uint32, pressed bool) {
	if sf := s.surfaces[sid]; sf != nil {
		for _, kb := range sf.client.keyboards {
			kb.key(serial, time, code, pressed)
		}
	}
}
