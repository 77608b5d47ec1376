// Package loon is a small Wayland compositor core: a single-threaded
// event loop around an authoritative state store, with damage-driven
// rendering and seat-based input routing on top of a pluggable
// backend.
package loon

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/charmbracelet/log"
	"lagoon.dev/loon/backend"
	"lagoon.dev/loon/config"
	"lagoon.dev/loon/damage"
	"lagoon.dev/loon/input"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/render"
	"lagoon.dev/loon/server"
	"lagoon.dev/loon/state"
)

const pingInterval = 5 * time.Second

// Compositor owns the loop goroutine and every mutable piece of the
// compositor. All of its methods must be called from that goroutine,
// or before Run starts.
type Compositor struct {
	cfg     *config.Config
	be      backend.Backend
	store   *state.Store
	tracker *damage.Tracker
	sched   *render.Scheduler
	router  *input.Router
	server  *server.Server
	seat    state.SeatID
	log     *log.Logger

	// outputs maps backend output names to store IDs.
	outputs map[string]state.OutputID
}

func New(cfg *config.Config, be backend.Backend) (*Compositor, error) {
	wlog.SetLevel(cfg.Logging.Level)

	stages, err := render.NewPipeline(cfg.Render.Pipeline, cfg.Render.Gamma)
	if err != nil {
		return nil, err
	}

	store := state.New()
	tracker := damage.New(store)
	seat := store.AddSeat("seat0", state.CapPointer|state.CapKeyboard|state.CapTouch)
	sched := render.NewScheduler(store, tracker, be, stages, nil)

	srv, err := server.Listen(cfg.Socket, store, tracker, sched, seat)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	sched.SetFrameSink(srv)

	c := Compositor{
		cfg:     cfg,
		be:      be,
		store:   store,
		tracker: tracker,
		sched:   sched,
		server:  srv,
		seat:    seat,
		log:     wlog.Component("loon"),
		outputs: make(map[string]state.OutputID),
	}

	c.router = input.NewRouter(store, seat, srv)
	c.router.OnActivate = c.activate
	c.router.OnDismiss = srv.DismissPopup
	sched.OnOutputLost = c.outputLost

	c.syncOutputs()
	return &c, nil
}

// Socket returns the listening socket path, for $WAYLAND_DISPLAY.
func (c *Compositor) Socket() string {
	return c.server.Socket()
}

// Run drives the compositor until ctx is cancelled. Everything
// happens on this goroutine: client requests, input routing, and
// render scheduling.
func (c *Compositor) Run(ctx context.Context) error {
	frames := time.NewTicker(c.frameInterval())
	defer frames.Stop()
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			c.server.CloseToplevels()
			c.server.Close()
			c.be.Close()
			return ctx.Err()

		case tok := <-c.be.Presented():
			c.sched.HandlePresented(tok)

		case <-pings.C:
			c.server.PingClients()

		case <-frames.C:
			if err := c.server.Flush(); err != nil {
				c.log.Debug("flush", "err", err)
			}
			c.pollInput()
			c.sched.Tick()
		}
	}
}

// frameInterval derives the tick rate from the fastest output.
func (c *Compositor) frameInterval() time.Duration {
	best := int32(60000)
	for _, info := range c.be.Outputs() {
		if info.RefreshMHz > best {
			best = info.RefreshMHz
		}
	}
	return time.Second * 1000 / time.Duration(best)
}

func (c *Compositor) pollInput() {
	st, ok := c.store.Seat(c.seat)
	if !ok {
		return
	}
	before := st.PointerPos

	for _, ev := range c.be.PollEvents(256) {
		if _, ok := ev.(backend.OutputsChanged); ok {
			c.syncOutputs()
			continue
		}
		c.router.Dispatch(ev)
	}

	if st.PointerPos != before {
		c.cursorDamage(before, st.PointerPos)
	}
}

// cursorDamage repaints the cursor's old and new footprint after the
// pointer moved.
func (c *Compositor) cursorDamage(old, now image.Point) {
	st, ok := c.store.Seat(c.seat)
	if !ok || st.Cursor == 0 {
		return
	}
	sf, ok := c.store.Surface(st.Cursor)
	if !ok || sf.Current.Size == (image.Point{}) {
		return
	}
	dmg := region.FromRect(state.PointRect(old.Sub(st.CursorHot), sf.Current.Size)).
		Add(state.PointRect(now.Sub(st.CursorHot), sf.Current.Size))
	c.tracker.MarkLayout(dmg)
}

// activate raises the clicked toplevel and gives it keyboard focus.
func (c *Compositor) activate(top state.SurfaceID) {
	dmg, err := c.store.Raise(top)
	if err != nil {
		return
	}
	c.tracker.MarkLayout(dmg)
	c.router.Activate(top)
}

// syncOutputs reconciles the store's outputs with what the backend
// reports, after startup and on hotplug.
func (c *Compositor) syncOutputs() {
	seen := make(map[string]bool)
	for _, info := range c.be.Outputs() {
		seen[info.Name] = true

		if oid, ok := c.outputs[info.Name]; ok {
			out, ok := c.store.Output(oid)
			if !ok {
				continue
			}
			if out.Rect != info.Rect || out.Scale != info.Scale {
				out.Rect = info.Rect
				out.Scale = info.Scale
				out.RefreshMHz = info.RefreshMHz
				c.tracker.InvalidateOutput(oid)
				c.server.OutputChanged(oid)
			}
			continue
		}

		oid := c.store.AddOutput(state.Output{
			Name:       info.Name,
			Rect:       info.Rect,
			Scale:      info.Scale,
			RefreshMHz: info.RefreshMHz,
		})
		c.outputs[info.Name] = oid
		c.sched.RegisterOutput(oid, info.Name)
		c.server.AddOutput(oid)
	}

	for name, oid := range c.outputs {
		if !seen[name] {
			delete(c.outputs, name)
			c.outputLost(oid)
		}
	}
}

// outputLost tears one output down without touching the rest.
func (c *Compositor) outputLost(oid state.OutputID) {
	c.log.Info("dropping output", "output", oid)
	c.server.RemoveOutput(oid)
	c.sched.DropOutput(oid)
	c.store.RemoveOutput(oid)
	for name, id := range c.outputs {
		if id == oid {
			delete(c.outputs, name)
		}
	}
}
