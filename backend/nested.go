package backend

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/shm"
	"lagoon.dev/loon/wire"
)

// nobj is the client-side stub for one host protocol object. It only
// exists to carry an ID into outgoing messages.
type nobj struct {
	id    uint32
	iface string
}

func (o *nobj) ID() uint32        { return o.id }
func (o *nobj) SetID(id uint32)   { o.id = id }
func (o *nobj) Interface() string { return o.iface }
func (o *nobj) Delete()           {}

func (o *nobj) Dispatch(msg *wire.MessageBuffer) error { return nil }

type nestedBuffer struct {
	obj  *nobj
	mem  []byte
	busy bool
}

// Nested runs the compositor as a window inside a host Wayland
// compositor: one toplevel is the single output, the host's input is
// this session's input, and the host's frame callbacks drive
// presentation timing.
type Nested struct {
	conn *wire.Conn
	log  *log.Logger
	size image.Point

	ids        uint32
	display    *nobj
	registry   *nobj
	compositor *nobj
	hostShm    *nobj
	seat       *nobj
	wmBase     *nobj
	surface    *nobj
	xdgSurface *nobj
	toplevel   *nobj

	hostPointer  *nobj
	hostKeyboard *nobj

	poolFile *os.File
	poolMem  shm.Mmap
	buffers  [2]*nestedBuffer

	presented chan PresentationToken
	frames    map[uint32]PresentationToken // frame callback id -> token
	next      PresentationToken

	mu      sync.Mutex
	events  []InputEvent
	pending []func() error
	closed  bool
	pointer image.Point
}

// OpenNested connects to the host compositor named by the
// environment and maps a toplevel of the given size as the output.
func OpenNested(size image.Point) (*Nested, error) {
	conn, err := wire.Dial()
	if err != nil {
		return nil, fmt.Errorf("connect to host compositor: %w", err)
	}

	n := Nested{
		conn:      conn,
		log:       wlog.Component("nested"),
		size:      size,
		ids:       1,
		presented: make(chan PresentationToken, 8),
		frames:    make(map[uint32]PresentationToken),
	}
	n.display = &nobj{id: 1, iface: "wl_display"}

	if err := n.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	go n.listen()
	return &n, nil
}

func (n *Nested) newObject(iface string) *nobj {
	n.ids++
	return &nobj{id: n.ids, iface: iface}
}

func (n *Nested) request(sender *nobj, op uint16, method string, build func(*wire.MessageBuilder)) error {
	mb := wire.NewMessage(sender, op)
	mb.Method = method
	if build != nil {
		build(mb)
	}
	return n.conn.WriteMessage(mb)
}

// setup performs the synchronous part of the handshake: enumerate
// globals, bind what we need, map the toplevel, and build the pool
// once the host tells us to.
func (n *Nested) setup() error {
	n.registry = n.newObject("wl_registry")
	err := n.request(n.display, 1, "get_registry", func(mb *wire.MessageBuilder) {
		mb.WriteUint(n.registry.id)
	})
	if err != nil {
		return err
	}

	type globalInfo struct {
		name    uint32
		version uint32
	}
	globals := make(map[string]globalInfo)
	if err := n.roundtrip(func(msg *wire.MessageBuffer) {
		if msg.Sender() == n.registry.id && msg.Op() == 0 {
			name := msg.ReadUint()
			iface := msg.ReadString()
			version := msg.ReadUint()
			if msg.Err() == nil {
				globals[iface] = globalInfo{name: name, version: version}
			}
		}
	}); err != nil {
		return err
	}

	bind := func(iface string, version uint32) (*nobj, error) {
		g, ok := globals[iface]
		if !ok {
			return nil, fmt.Errorf("host does not offer %v", iface)
		}
		obj := n.newObject(iface)
		err := n.request(n.registry, 0, "bind", func(mb *wire.MessageBuilder) {
			mb.WriteUint(g.name)
			mb.WriteNewID(wire.NewID{Interface: iface, Version: min(version, g.version), ID: obj.id})
		})
		return obj, err
	}

	if n.compositor, err = bind("wl_compositor", 4); err != nil {
		return err
	}
	if n.hostShm, err = bind("wl_shm", 1); err != nil {
		return err
	}
	if n.wmBase, err = bind("xdg_wm_base", 1); err != nil {
		return err
	}
	if _, ok := globals["wl_seat"]; ok {
		if n.seat, err = bind("wl_seat", 5); err != nil {
			return err
		}
		pointer := n.newObject("wl_pointer")
		if err := n.request(n.seat, 0, "get_pointer", func(mb *wire.MessageBuilder) {
			mb.WriteUint(pointer.id)
		}); err != nil {
			return err
		}
		n.hostPointer = pointer
		keyboard := n.newObject("wl_keyboard")
		if err := n.request(n.seat, 1, "get_keyboard", func(mb *wire.MessageBuilder) {
			mb.WriteUint(keyboard.id)
		}); err != nil {
			return err
		}
		n.hostKeyboard = keyboard
	}

	n.surface = n.newObject("wl_surface")
	if err := n.request(n.compositor, 0, "create_surface", func(mb *wire.MessageBuilder) {
		mb.WriteUint(n.surface.id)
	}); err != nil {
		return err
	}
	n.xdgSurface = n.newObject("xdg_surface")
	if err := n.request(n.wmBase, 2, "get_xdg_surface", func(mb *wire.MessageBuilder) {
		mb.WriteUint(n.xdgSurface.id)
		mb.WriteUint(n.surface.id)
	}); err != nil {
		return err
	}
	n.toplevel = n.newObject("xdg_toplevel")
	if err := n.request(n.xdgSurface, 1, "get_toplevel", func(mb *wire.MessageBuilder) {
		mb.WriteUint(n.toplevel.id)
	}); err != nil {
		return err
	}
	if err := n.request(n.toplevel, 2, "set_title", func(mb *wire.MessageBuilder) {
		mb.WriteString("loon")
	}); err != nil {
		return err
	}
	if err := n.request(n.surface, 6, "commit", nil); err != nil {
		return err
	}

	// The first configure must arrive before we attach anything.
	configured := false
	for !configured {
		if err := n.roundtrip(func(msg *wire.MessageBuffer) {
			if msg.Sender() == n.xdgSurface.id && msg.Op() == 0 {
				serial := msg.ReadUint()
				if msg.Err() == nil {
					n.request(n.xdgSurface, 4, "ack_configure", func(mb *wire.MessageBuilder) {
						mb.WriteUint(serial)
					})
					configured = true
				}
			}
		}); err != nil {
			return err
		}
	}

	return n.createPool()
}

// roundtrip sends a sync and hands every message that arrives before
// its done event to f.
func (n *Nested) roundtrip(f func(*wire.MessageBuffer)) error {
	cb := n.newObject("wl_callback")
	err := n.request(n.display, 0, "sync", func(mb *wire.MessageBuilder) {
		mb.WriteUint(cb.id)
	})
	if err != nil {
		return err
	}

	for {
		msg, err := n.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msg.Sender() == cb.id && msg.Op() == 0 {
			msg.Discard()
			return nil
		}
		if msg.Sender() == n.display.id && msg.Op() == 0 {
			return n.displayError(msg)
		}
		f(msg)
		msg.Discard()
	}
}

func (n *Nested) displayError(msg *wire.MessageBuffer) error {
	obj := msg.ReadUint()
	code := msg.ReadUint()
	text := msg.ReadString()
	msg.Discard()
	return fmt.Errorf("host protocol error on object %v (code %v): %v", obj, code, text)
}

func (n *Nested) createPool() error {
	frame := 4 * n.size.X * n.size.Y
	file, err := shm.Create(int64(2 * frame))
	if err != nil {
		return err
	}
	mem, err := shm.MapShared(file, 2*frame, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		file.Close()
		return err
	}
	n.poolFile = file
	n.poolMem = mem

	pool := n.newObject("wl_shm_pool")
	err = n.request(n.hostShm, 0, "create_pool", func(mb *wire.MessageBuilder) {
		mb.WriteUint(pool.id)
		mb.WriteFile(file)
		mb.WriteInt(int32(2 * frame))
	})
	if err != nil {
		return err
	}

	for i := range n.buffers {
		obj := n.newObject("wl_buffer")
		offset := i * frame
		err := n.request(pool, 0, "create_buffer", func(mb *wire.MessageBuilder) {
			mb.WriteUint(obj.id)
			mb.WriteInt(int32(offset))
			mb.WriteInt(int32(n.size.X))
			mb.WriteInt(int32(n.size.Y))
			mb.WriteInt(int32(4 * n.size.X))
			mb.WriteUint(shm.FormatXRGB8888)
		})
		if err != nil {
			return err
		}
		n.buffers[i] = &nestedBuffer{obj: obj, mem: mem[offset : offset+frame]}
	}
	return nil
}

// listen turns host events into input events and presentation
// signals. It never writes to the socket; replies that need writing
// are deferred to the loop thread via pending.
func (n *Nested) listen() {
	for {
		msg, err := n.conn.ReadMessage()
		if err != nil {
			n.mu.Lock()
			if !n.closed {
				n.closed = true
				n.events = append(n.events, OutputsChanged{})
			}
			n.mu.Unlock()
			return
		}
		n.handle(msg)
		msg.Discard()
	}
}

func (n *Nested) handle(msg *wire.MessageBuffer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := uint32(time.Now().UnixMilli())

	switch {
	case msg.Sender() == n.display.id && msg.Op() == 0:
		n.log.Error("host error", "err", n.displayError(msg))
		n.closed = true
		n.events = append(n.events, OutputsChanged{})

	case n.wmBase != nil && msg.Sender() == n.wmBase.id && msg.Op() == 0: // ping
		serial := msg.ReadUint()
		n.pending = append(n.pending, func() error {
			return n.request(n.wmBase, 3, "pong", func(mb *wire.MessageBuilder) {
				mb.WriteUint(serial)
			})
		})

	case msg.Sender() == n.xdgSurface.id && msg.Op() == 0: // configure
		serial := msg.ReadUint()
		n.pending = append(n.pending, func() error {
			return n.request(n.xdgSurface, 4, "ack_configure", func(mb *wire.MessageBuilder) {
				mb.WriteUint(serial)
			})
		})

	case msg.Sender() == n.toplevel.id && msg.Op() == 1: // close
		n.closed = true
		n.events = append(n.events, OutputsChanged{})

	case n.bufferFor(msg.Sender()) != nil && msg.Op() == 0: // release
		n.bufferFor(msg.Sender()).busy = false

	case n.frames[msg.Sender()] != 0 && msg.Op() == 0: // frame done
		tok := n.frames[msg.Sender()]
		delete(n.frames, msg.Sender())
		select {
		case n.presented <- tok:
		default:
		}

	case n.hostPointer != nil && msg.Sender() == n.hostPointer.id:
		n.pointerEvent(msg, now)

	case n.hostKeyboard != nil && msg.Sender() == n.hostKeyboard.id && msg.Op() == 3: // key
		msg.ReadUint() // serial
		t := msg.ReadUint()
		code := msg.ReadUint()
		st := msg.ReadUint()
		if msg.Err() == nil {
			n.events = append(n.events, Key{Time: t, Code: code, Pressed: st == 1})
		}
	}
}

func (n *Nested) pointerEvent(msg *wire.MessageBuffer, now uint32) {
	switch msg.Op() {
	case 0: // enter
		msg.ReadUint() // serial
		msg.ReadUint() // surface
		x, y := msg.ReadFixed(), msg.ReadFixed()
		if msg.Err() == nil {
			n.pointer = image.Pt(x.Int(), y.Int())
			n.events = append(n.events, PointerMotion{Time: now, Pos: n.pointer})
		}
	case 2: // motion
		t := msg.ReadUint()
		x, y := msg.ReadFixed(), msg.ReadFixed()
		if msg.Err() == nil {
			n.pointer = image.Pt(x.Int(), y.Int())
			n.events = append(n.events, PointerMotion{Time: t, Pos: n.pointer})
		}
	case 3: // button
		msg.ReadUint() // serial
		t := msg.ReadUint()
		button := msg.ReadUint()
		st := msg.ReadUint()
		if msg.Err() == nil {
			n.events = append(n.events, PointerButton{Time: t, Button: button, Pressed: st == 1})
		}
	}
}

func (n *Nested) bufferFor(id uint32) *nestedBuffer {
	for _, b := range n.buffers {
		if b != nil && b.obj.id == id {
			return b
		}
	}
	return nil
}

func (n *Nested) Name() string { return "nested" }

func (n *Nested) Outputs() []OutputInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	return []OutputInfo{{
		Name:       "nested-0",
		Rect:       image.Rectangle{Max: n.size},
		Scale:      1,
		RefreshMHz: 60000,
	}}
}

func (n *Nested) PollEvents(max int) []InputEvent {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	cut := min(max, len(n.events))
	evs := n.events[:cut:cut]
	n.events = n.events[cut:]
	n.mu.Unlock()

	for _, f := range pending {
		if err := f(); err != nil {
			n.log.Debug("deferred reply failed", "err", err)
		}
	}
	return evs
}

func (n *Nested) ImportBuffer(h BufferHandle) (image.Image, error) {
	if h.Image == nil {
		return nil, ErrImportFailed
	}
	return h.Image, nil
}

// Present copies the frame into a free host buffer, attaches it with
// a frame callback, and commits. The host's frame callback completes
// the token.
func (n *Nested) Present(output string, img image.Image) (PresentationToken, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return 0, ErrOutputLost
	}
	buf := n.buffers[0]
	if buf.busy {
		buf = n.buffers[1]
	}
	if buf.busy {
		// The host still reads both buffers. Skip the frame; the
		// caller keeps the damage and retries after a release.
		n.mu.Unlock()
		return 0, ErrBusy
	}
	n.mu.Unlock()

	view, err := shm.Image(buf.mem, n.size, shm.FormatXRGB8888)
	if err != nil {
		return 0, err
	}
	draw.Draw(view, view.Bounds(), img, img.Bounds().Min, draw.Src)

	cb := n.newObject("wl_callback")
	reqs := []error{
		n.request(n.surface, 3, "frame", func(mb *wire.MessageBuilder) {
			mb.WriteUint(cb.id)
		}),
		n.request(n.surface, 1, "attach", func(mb *wire.MessageBuilder) {
			mb.WriteUint(buf.obj.id)
			mb.WriteInt(0)
			mb.WriteInt(0)
		}),
		n.request(n.surface, 2, "damage", func(mb *wire.MessageBuilder) {
			mb.WriteInt(0)
			mb.WriteInt(0)
			mb.WriteInt(int32(n.size.X))
			mb.WriteInt(int32(n.size.Y))
		}),
		n.request(n.surface, 6, "commit", nil),
	}
	if err := errors.Join(reqs...); err != nil {
		return 0, err
	}

	n.mu.Lock()
	buf.busy = true
	n.next++
	tok := n.next
	n.frames[cb.id] = tok
	n.mu.Unlock()
	return tok, nil
}

func (n *Nested) Presented() <-chan PresentationToken {
	return n.presented
}

func (n *Nested) Close() error {
	err := n.conn.Close()
	if n.poolMem != nil {
		n.poolMem.Unmap()
	}
	if n.poolFile != nil {
		n.poolFile.Close()
	}
	return err
}
