// Package server is the protocol handler layer: it owns the
// listening socket and one connection handler per client, translates
// requests into state store operations, and emits the resulting
// protocol events. Protocol violations cost the offending client its
// connection and nothing else.
package server

import (
	"errors"
	"image"
	"net"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"lagoon.dev/loon/damage"
	"lagoon.dev/loon/internal/ev"
	"lagoon.dev/loon/internal/set"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/render"
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

type Server struct {
	done  chan struct{}
	close sync.Once

	lis     *net.UnixListener
	socket  string
	clients set.Set[*Client]
	queue   *ev.Queue

	store   *state.Store
	tracker *damage.Tracker
	sched   *render.Scheduler
	seat    state.SeatID
	log     *log.Logger

	// surfaces indexes every live surface's protocol object by state
	// id, for event routing from the router and scheduler.
	surfaces map[state.SurfaceID]*surfaceObject

	globals    map[uint32]*global
	globalName uint32

	keymap *os.File
	drag   drag
}

// Listen opens the compositor socket and starts accepting clients.
// Flush must be called from the loop thread to actually process
// them.
func Listen(name string, store *state.Store, tracker *damage.Tracker, sched *render.Scheduler, seat state.SeatID) (*Server, error) {
	lis, socket, err := wire.Listen(name)
	if err != nil {
		return nil, err
	}
	server := Server{
		done:     make(chan struct{}),
		lis:      lis,
		socket:   socket,
		clients:  make(set.Set[*Client]),
		queue:    ev.NewQueue(),
		store:    store,
		tracker:  tracker,
		sched:    sched,
		seat:     seat,
		log:      wlog.Component("server"),
		surfaces: make(map[state.SurfaceID]*surfaceObject),
		globals:  make(map[uint32]*global),
	}
	server.initGlobals()
	go server.listen()

	server.log.Info("listening", "socket", socket)
	return &server, nil
}

// Socket returns the path of the listening socket, for
// $WAYLAND_DISPLAY.
func (s *Server) Socket() string {
	return s.socket
}

func (s *Server) listen() {
	for {
		c, err := s.lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-s.done:
				return
			case s.queue.Add() <- func() error { return err }:
				continue
			}
		}

		select {
		case <-s.done:
			return
		case s.queue.Add() <- func() error { s.addClient(c); return nil }:
		}
	}
}

func (s *Server) addClient(c *net.UnixConn) {
	client := newClient(s, wire.NewConn(c))
	s.clients.Add(client)
	s.log.Debug("client connected", "client", client.id)
}

// Flush processes everything that arrived since the last call: new
// connections, then every client's queued requests. It runs on the
// loop thread; this is the only place client requests mutate the
// store.
func (s *Server) Flush() error {
	var errs []error
	select {
	case q := <-s.queue.Get():
		errs = append(errs, q.Flush())
	default:
	}

	for client := range s.clients {
		errs = append(errs, client.Flush())
		if client.dead() {
			s.removeClient(client)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) removeClient(client *Client) {
	s.clients.Delete(client)
	client.cleanup()
	s.log.Debug("client disconnected", "client", client.id)
}

// Close shuts the server down, disconnecting every client.
func (s *Server) Close() error {
	s.close.Do(func() { close(s.done) })
	err := s.lis.Close()
	for client := range s.clients {
		client.kill()
		s.removeClient(client)
	}
	if s.keymap != nil {
		s.keymap.Close()
	}
	return err
}

// FrameDone implements render.FrameSink: deliver wl_callback.done to
// the surface's scheduled frame callbacks.
func (s *Server) FrameDone(sid state.SurfaceID, msec uint32) {
	sf := s.surfaces[sid]
	if sf == nil {
		return
	}
	for _, cb := range sf.scheduled {
		cb.done(msec)
	}
	sf.scheduled = nil
}

// drag tracks an interactive move or resize started by a client
// request. While active, pointer motion drives window geometry
// instead of being delivered as-is.
type drag struct {
	active bool
	resize bool
	sid    state.SurfaceID
	edges  uint32
	start  image.Point // pointer position at grab start
	orig   image.Point // surface position or size at grab start
	last   image.Point // last size sent while resizing
}

// dragMotion applies pointer movement to the dragged window: moves
// reposition it directly, resizes ask the client for a new size via
// the configure machinery.
func (s *Server) dragMotion() {
	st, ok := s.store.Seat(s.seat)
	if !ok {
		s.drag.active = false
		return
	}
	sf := s.surfaces[s.drag.sid]
	if sf == nil {
		s.drag.active = false
		return
	}
	delta := st.PointerPos.Sub(s.drag.start)

	if !s.drag.resize {
		dmg, err := s.store.MoveSurface(s.drag.sid, s.drag.orig.Add(delta))
		if err != nil {
			s.drag.active = false
			return
		}
		s.tracker.MarkLayout(dmg)
		return
	}

	size := s.drag.orig
	if s.drag.edges&resizeEdgeRight != 0 {
		size.X += delta.X
	}
	if s.drag.edges&resizeEdgeLeft != 0 {
		size.X -= delta.X
	}
	if s.drag.edges&resizeEdgeBottom != 0 {
		size.Y += delta.Y
	}
	if s.drag.edges&resizeEdgeTop != 0 {
		size.Y -= delta.Y
	}
	size.X = max(size.X, 1)
	size.Y = max(size.Y, 1)
	if size == s.drag.last {
		return
	}
	s.drag.last = size

	if sf.xdg != nil {
		if tl, ok := sf.xdg.role.(*toplevelObject); ok {
			tl.configure(size, []uint32{toplevelStateResizing})
		}
	}
}
