package server

import (
	"image"

	"lagoon.dev/loon/internal/bin"
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

const (
	wmBaseReqDestroy          = 0
	wmBaseReqCreatePositioner = 1
	wmBaseReqGetXdgSurface    = 2
	wmBaseReqPong             = 3

	wmBaseEvtPing = 0
)

type wmBaseObject struct {
	object
	client *Client

	pingSerial uint32
	awaiting   bool
}

func bindWmBase(c *Client, version, id uint32) error {
	obj := &wmBaseObject{client: c}
	obj.SetID(id)
	c.store.Add(obj)
	c.wmBases = append(c.wmBases, obj)
	return nil
}

func (wm *wmBaseObject) Interface() string { return "xdg_wm_base" }

func (wm *wmBaseObject) Dispatch(msg *wire.MessageBuffer) error {
	c := wm.client
	switch msg.Op() {
	case wmBaseReqDestroy:
		c.wmBases = removeWmBase(c.wmBases, wm)
		c.destroyObject(wm)
		return nil

	case wmBaseReqCreatePositioner:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		pos := &positionerObject{client: c}
		pos.SetID(id)
		c.store.Add(pos)
		return nil

	case wmBaseReqGetXdgSurface:
		id := msg.ReadUint()
		surface := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		sf, ok := c.store.Get(surface).(*surfaceObject)
		if !ok {
			return protoErr(wm, errInvalidObject, "object %v is not a wl_surface", surface)
		}
		x := &xdgSurfaceObject{client: c, sf: sf, sid: sf.sid}
		x.SetID(id)
		c.store.Add(x)
		sf.xdg = x
		return nil

	case wmBaseReqPong:
		serial := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		if wm.awaiting && serial == wm.pingSerial {
			wm.awaiting = false
		}
		return nil

	default:
		return invalidMethod(wm, msg.Op())
	}
}

func (wm *wmBaseObject) ping(serial uint32) {
	wm.pingSerial = serial
	wm.awaiting = true
	mb := wire.NewMessage(wm, wmBaseEvtPing)
	mb.Method = "ping"
	mb.WriteUint(serial)
	wm.client.send(mb)
}

func removeWmBase(s []*wmBaseObject, wm *wmBaseObject) []*wmBaseObject {
	for i, v := range s {
		if v == wm {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// PingClients sends a liveness ping to every client with a shell
// bound. A client that has not answered the previous round is
// considered hung and disconnected.
func (s *Server) PingClients() {
	for client := range s.clients {
		for _, wm := range client.wmBases {
			if wm.awaiting {
				s.log.Warn("client unresponsive", "client", client.id)
				client.kill()
				break
			}
			wm.ping(s.store.NextSerial())
		}
	}
}

const (
	positionerReqDestroy                 = 0
	positionerReqSetSize                 = 1
	positionerReqSetAnchorRect           = 2
	positionerReqSetAnchor               = 3
	positionerReqSetGravity              = 4
	positionerReqSetConstraintAdjustment = 5
	positionerReqSetOffset               = 6
)

// positionerObject collects placement rules for a future popup. Only
// the anchor rectangle, size, and offset influence placement here;
// the constraint solver is deliberately primitive.
type positionerObject struct {
	object
	client *Client

	size       image.Point
	anchorRect image.Rectangle
	offset     image.Point
}

func (p *positionerObject) Interface() string { return "xdg_positioner" }

func (p *positionerObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case positionerReqDestroy:
		p.client.destroyObject(p)
		return nil

	case positionerReqSetSize:
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if w <= 0 || h <= 0 {
			return protoErr(p, errImplementation, "positioner size %vx%v is not positive", w, h)
		}
		p.size = image.Pt(int(w), int(h))
		return nil

	case positionerReqSetAnchorRect:
		r := readRect(msg)
		if err := msg.Err(); err != nil {
			return err
		}
		p.anchorRect = r
		return nil

	case positionerReqSetAnchor, positionerReqSetGravity, positionerReqSetConstraintAdjustment:
		msg.ReadUint()
		return msg.Err()

	case positionerReqSetOffset:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		p.offset = image.Pt(int(x), int(y))
		return nil

	default:
		return invalidMethod(p, msg.Op())
	}
}

// place resolves the positioner to a position relative to the parent.
func (p *positionerObject) place() image.Point {
	return p.anchorRect.Min.Add(p.offset)
}

const (
	xdgSurfaceReqDestroy           = 0
	xdgSurfaceReqGetToplevel       = 1
	xdgSurfaceReqGetPopup          = 2
	xdgSurfaceReqSetWindowGeometry = 3
	xdgSurfaceReqAckConfigure      = 4

	xdgSurfaceEvtConfigure = 0
)

type xdgSurfaceObject struct {
	object
	client *Client
	sf     *surfaceObject
	sid    state.SurfaceID

	// role is the *toplevelObject or *popupObject once one is
	// created.
	role any

	geometry image.Rectangle
}

func (x *xdgSurfaceObject) Interface() string { return "xdg_surface" }

func (x *xdgSurfaceObject) Dispatch(msg *wire.MessageBuffer) error {
	c := x.client
	switch msg.Op() {
	case xdgSurfaceReqDestroy:
		x.sf.xdg = nil
		c.destroyObject(x)
		return nil

	case xdgSurfaceReqGetToplevel:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		if err := c.server.store.AssignRole(c.id, x.sid, state.RoleToplevel, 0); err != nil {
			return wrap(x, err)
		}
		tl := &toplevelObject{client: c, xdg: x, sid: x.sid}
		tl.SetID(id)
		c.store.Add(tl)
		x.role = tl
		return nil

	case xdgSurfaceReqGetPopup:
		id := msg.ReadUint()
		parent := msg.ReadUint()
		positioner := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		px, ok := c.store.Get(parent).(*xdgSurfaceObject)
		if !ok {
			return protoErr(x, errInvalidObject, "object %v is not an xdg_surface", parent)
		}
		pos, ok := c.store.Get(positioner).(*positionerObject)
		if !ok {
			return protoErr(x, errInvalidObject, "object %v is not an xdg_positioner", positioner)
		}
		if pos.size == (image.Point{}) {
			return protoErr(x, errImplementation, "positioner is incomplete")
		}

		if err := c.server.store.AssignRole(c.id, x.sid, state.RolePopup, px.sid); err != nil {
			return wrap(x, err)
		}
		at := pos.place()
		if err := x.sf.position(at); err != nil {
			return wrap(x, err)
		}

		pop := &popupObject{client: c, xdg: x, sid: x.sid, at: at, size: pos.size}
		pop.SetID(id)
		c.store.Add(pop)
		x.role = pop
		return nil

	case xdgSurfaceReqSetWindowGeometry:
		r := readRect(msg)
		if err := msg.Err(); err != nil {
			return err
		}
		x.geometry = r
		return nil

	case xdgSurfaceReqAckConfigure:
		serial := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		return wrap(x, c.server.store.AckConfigure(c.id, x.sid, serial))

	default:
		return invalidMethod(x, msg.Op())
	}
}

func (x *xdgSurfaceObject) configure(serial uint32) {
	mb := wire.NewMessage(x, xdgSurfaceEvtConfigure)
	mb.Method = "configure"
	mb.WriteUint(serial)
	x.client.send(mb)
}

// afterCommit drives the initial configure: the first commit on a
// role surface answers with a configure event the client must ack
// before its next buffer.
func (x *xdgSurfaceObject) afterCommit() {
	st, ok := x.client.server.store.Surface(x.sid)
	if !ok || st.Configure != state.Unconfigured {
		return
	}
	switch role := x.role.(type) {
	case *toplevelObject:
		role.configure(image.Point{}, nil)
	case *popupObject:
		role.configurePopup()
	}
}

const (
	toplevelReqDestroy        = 0
	toplevelReqSetParent      = 1
	toplevelReqSetTitle       = 2
	toplevelReqSetAppID       = 3
	toplevelReqShowWindowMenu = 4
	toplevelReqMove           = 5
	toplevelReqResize         = 6
	toplevelReqSetMaxSize     = 7
	toplevelReqSetMinSize     = 8
	toplevelReqSetMaximized   = 9
	toplevelReqUnsetMaximized = 10
	toplevelReqSetFullscreen  = 11
	toplevelReqUnsetFullscrn  = 12
	toplevelReqSetMinimized   = 13

	toplevelEvtConfigure = 0
	toplevelEvtClose     = 1

	toplevelStateResizing  = 3
	toplevelStateActivated = 4

	resizeEdgeTop    = 1
	resizeEdgeBottom = 2
	resizeEdgeLeft   = 4
	resizeEdgeRight  = 8
)

type toplevelObject struct {
	object
	client *Client
	xdg    *xdgSurfaceObject
	sid    state.SurfaceID

	title   string
	appID   string
	minSize image.Point
	maxSize image.Point
}

func (tl *toplevelObject) Interface() string { return "xdg_toplevel" }

func (tl *toplevelObject) Dispatch(msg *wire.MessageBuffer) error {
	c := tl.client
	switch msg.Op() {
	case toplevelReqDestroy:
		dmg, err := c.server.store.Unmap(c.id, tl.sid)
		if err != nil {
			return wrap(tl, err)
		}
		c.server.tracker.MarkLayout(dmg)
		tl.xdg.role = nil
		tl.sf().updateOutputs()
		c.destroyObject(tl)
		return nil

	case toplevelReqSetParent:
		msg.ReadUint()
		return msg.Err()

	case toplevelReqSetTitle:
		tl.title = msg.ReadString()
		return msg.Err()

	case toplevelReqSetAppID:
		tl.appID = msg.ReadString()
		return msg.Err()

	case toplevelReqShowWindowMenu:
		msg.ReadUint() // seat
		msg.ReadUint() // serial
		msg.ReadInt()
		msg.ReadInt()
		return msg.Err()

	case toplevelReqMove:
		msg.ReadUint() // seat
		msg.ReadUint() // serial
		if err := msg.Err(); err != nil {
			return err
		}
		return tl.startMove()

	case toplevelReqResize:
		msg.ReadUint() // seat
		msg.ReadUint() // serial
		edges := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		return tl.startResize(edges)

	case toplevelReqSetMaxSize:
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		tl.maxSize = image.Pt(int(w), int(h))
		return nil

	case toplevelReqSetMinSize:
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		tl.minSize = image.Pt(int(w), int(h))
		return nil

	case toplevelReqSetMaximized, toplevelReqUnsetMaximized,
		toplevelReqSetFullscreen, toplevelReqUnsetFullscrn, toplevelReqSetMinimized:
		// Window management states are not implemented; the requests
		// are legal no-ops.
		if msg.Op() == toplevelReqSetFullscreen {
			msg.ReadUint()
		}
		return msg.Err()

	default:
		return invalidMethod(tl, msg.Op())
	}
}

func (tl *toplevelObject) sf() *surfaceObject {
	return tl.xdg.sf
}

// configure sends a toplevel configure and its matching xdg_surface
// configure. Size zero lets the client pick.
func (tl *toplevelObject) configure(size image.Point, states []uint32) {
	serial, err := tl.client.server.store.SendConfigure(tl.sid, size)
	if err != nil {
		return
	}

	var arr []byte
	for _, st := range states {
		b := bin.Bytes(st)
		arr = append(arr, b[:]...)
	}

	mb := wire.NewMessage(tl, toplevelEvtConfigure)
	mb.Method = "configure"
	mb.WriteInt(int32(size.X))
	mb.WriteInt(int32(size.Y))
	mb.WriteArray(arr)
	tl.client.send(mb)

	tl.xdg.configure(serial)
}

// close asks the client to close the window.
func (tl *toplevelObject) close() {
	mb := wire.NewMessage(tl, toplevelEvtClose)
	mb.Method = "close"
	tl.client.send(mb)
}

func (tl *toplevelObject) startMove() error {
	s := tl.client.server
	st, ok := s.store.Surface(tl.sid)
	if !ok {
		return protoErr(tl, errInvalidObject, "surface is gone")
	}
	seat, ok := s.store.Seat(s.seat)
	if !ok {
		return nil
	}
	s.drag = drag{
		active: true,
		sid:    tl.sid,
		start:  seat.PointerPos,
		orig:   st.Current.Position,
	}
	return nil
}

func (tl *toplevelObject) startResize(edges uint32) error {
	s := tl.client.server
	st, ok := s.store.Surface(tl.sid)
	if !ok {
		return protoErr(tl, errInvalidObject, "surface is gone")
	}
	if edges == 0 || edges > (resizeEdgeTop|resizeEdgeBottom|resizeEdgeLeft|resizeEdgeRight) {
		return protoErr(tl, errImplementation, "bad resize edges %v", edges)
	}
	seat, ok := s.store.Seat(s.seat)
	if !ok {
		return nil
	}
	s.drag = drag{
		active: true,
		resize: true,
		sid:    tl.sid,
		edges:  edges,
		start:  seat.PointerPos,
		orig:   st.Current.Size,
		last:   st.Current.Size,
	}
	return nil
}

const (
	popupReqDestroy = 0
	popupReqGrab    = 1

	popupEvtConfigure = 0
	popupEvtPopupDone = 1
)

type popupObject struct {
	object
	client *Client
	xdg    *xdgSurfaceObject
	sid    state.SurfaceID

	at   image.Point // position relative to the parent
	size image.Point
}

func (p *popupObject) Interface() string { return "xdg_popup" }

func (p *popupObject) Dispatch(msg *wire.MessageBuffer) error {
	c := p.client
	switch msg.Op() {
	case popupReqDestroy:
		dmg, err := c.server.store.Unmap(c.id, p.sid)
		if err != nil {
			return wrap(p, err)
		}
		c.server.tracker.MarkLayout(dmg)
		p.xdg.role = nil
		p.xdg.sf.updateOutputs()
		c.destroyObject(p)
		return nil

	case popupReqGrab:
		msg.ReadUint() // seat
		msg.ReadUint() // serial
		if err := msg.Err(); err != nil {
			return err
		}
		return wrap(p, c.server.store.SetGrab(c.server.seat, p.sid))

	default:
		return invalidMethod(p, msg.Op())
	}
}

func (p *popupObject) configurePopup() {
	serial, err := p.client.server.store.SendConfigure(p.sid, p.size)
	if err != nil {
		return
	}

	mb := wire.NewMessage(p, popupEvtConfigure)
	mb.Method = "configure"
	mb.WriteInt(int32(p.at.X))
	mb.WriteInt(int32(p.at.Y))
	mb.WriteInt(int32(p.size.X))
	mb.WriteInt(int32(p.size.Y))
	p.client.send(mb)

	p.xdg.configure(serial)
}

// popupDone dismisses the popup from the compositor side.
func (p *popupObject) popupDone() {
	mb := wire.NewMessage(p, popupEvtPopupDone)
	mb.Method = "popup_done"
	p.client.send(mb)

	dmg, err := p.client.server.store.Unmap(p.client.id, p.sid)
	if err == nil {
		p.client.server.tracker.MarkLayout(dmg)
	}
	p.xdg.sf.updateOutputs()
}

// CloseToplevels asks every mapped toplevel to close. Called on
// graceful shutdown so clients can exit cleanly before the socket
// goes away.
func (s *Server) CloseToplevels() {
	for _, sf := range s.surfaces {
		if sf.xdg == nil {
			continue
		}
		if tl, ok := sf.xdg.role.(*toplevelObject); ok {
			tl.close()
		}
	}
}

// DismissPopup breaks a popup's grab from the outside, e.g. a click
// elsewhere. Non-popup grabs are simply released.
func (s *Server) DismissPopup(sid state.SurfaceID) {
	sf := s.surfaces[sid]
	if sf == nil || sf.xdg == nil {
		return
	}
	if pop, ok := sf.xdg.role.(*popupObject); ok {
		pop.popupDone()
	}
}
