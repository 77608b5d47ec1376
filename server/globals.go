package server

import (
	"slices"

	"lagoon.dev/loon/state"
)

// Advertised global versions.
const (
	compositorVersion    = 4
	shmVersion           = 1
	seatVersion          = 5
	outputVersion        = 3
	subcompositorVersion = 1
	wmBaseVersion        = 1
)

// global is one wl_registry global: a name, an interface, and a way
// to make the bound object for a client.
type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, version, id uint32) error

	// output is set for wl_output globals so removal can find them.
	output state.OutputID
}

func (s *Server) initGlobals() {
	s.addGlobal(&global{iface: "wl_compositor", version: compositorVersion, bind: bindCompositor})
	s.addGlobal(&global{iface: "wl_shm", version: shmVersion, bind: bindShm})
	s.addGlobal(&global{iface: "wl_seat", version: seatVersion, bind: bindSeat})
	s.addGlobal(&global{iface: "wl_subcompositor", version: subcompositorVersion, bind: bindSubcompositor})
	s.addGlobal(&global{iface: "xdg_wm_base", version: wmBaseVersion, bind: bindWmBase})
}

func (s *Server) addGlobal(g *global) {
	s.globalName++
	g.name = s.globalName
	s.globals[g.name] = g

	for client := range s.clients {
		for _, reg := range client.registries {
			reg.global(g)
		}
	}
}

// globalList returns the globals in announcement order.
func (s *Server) globalList() []*global {
	gs := make([]*global, 0, len(s.globals))
	for _, g := range s.globals {
		gs = append(gs, g)
	}
	slices.SortFunc(gs, func(a, b *global) int { return int(a.name) - int(b.name) })
	return gs
}

// AddOutput announces a store output as a wl_output global.
func (s *Server) AddOutput(oid state.OutputID) {
	s.addGlobal(&global{
		iface:   "wl_output",
		version: outputVersion,
		output:  oid,
		bind: func(c *Client, version, id uint32) error {
			return bindOutput(c, version, id, oid)
		},
	})
}

// RemoveOutput withdraws an output's global and tells every client
// that bound it. Surfaces that were only on this output simply stop
// being presented; their state is untouched.
func (s *Server) RemoveOutput(oid state.OutputID) {
	for name, g := range s.globals {
		if g.output != oid {
			continue
		}
		delete(s.globals, name)
		for client := range s.clients {
			for _, reg := range client.registries {
				reg.globalRemove(name)
			}
			delete(client.outputs, oid)
		}
	}
}
