package state

import (
	"github.com/charmbracelet/log"
	"lagoon.dev/loon/internal/set"
	"lagoon.dev/loon/internal/wlog"
)

// Store is the single owner of all compositor entities. It is not
// safe for concurrent use: every method must be called from the
// compositor's loop goroutine. The render scheduler gets consistent
// copies via snapshots instead of reaching in directly.
type Store struct {
	clients  map[ClientID]*Client
	surfaces map[SurfaceID]*Surface
	buffers  map[BufferID]*Buffer
	outputs  map[OutputID]*Output
	seats    map[SeatID]*Seat

	ids    uint64
	zstamp uint64
	serial uint32
	log    *log.Logger
}

// Client tracks the entities owned by one connection.
type Client struct {
	ID       ClientID
	surfaces set.Set[SurfaceID]
	buffers  set.Set[BufferID]
}

func New() *Store {
	return &Store{
		clients:  make(map[ClientID]*Client),
		surfaces: make(map[SurfaceID]*Surface),
		buffers:  make(map[BufferID]*Buffer),
		outputs:  make(map[OutputID]*Output),
		seats:    make(map[SeatID]*Seat),
		log:      wlog.Component("state"),
	}
}

func (s *Store) nextID() uint64 {
	s.ids++
	return s.ids
}

// NextSerial returns a fresh serial for configure and input events.
func (s *Store) NextSerial() uint32 {
	s.serial++
	return s.serial
}

// AddClient registers a new connection.
func (s *Store) AddClient() ClientID {
	id := ClientID(s.nextID())
	s.clients[id] = &Client{
		ID:       id,
		surfaces: make(set.Set[SurfaceID]),
		buffers:  make(set.Set[BufferID]),
	}
	return id
}

// RemoveClient destroys everything the client owns. It is idempotent:
// removing an unknown or already-removed client does nothing. Other
// clients' surfaces and the outputs are untouched. The returned
// outputs need redrawing.
func (s *Store) RemoveClient(c ClientID) []OutputID {
	cl, ok := s.clients[c]
	if !ok {
		return nil
	}

	outs := make(set.Set[OutputID])
	for sid := range cl.surfaces {
		res, err := s.DestroySurface(c, sid)
		if err != nil {
			panic("state: client surface set out of sync: " + err.Error())
		}
		for _, o := range res.Outputs {
			outs.Add(o)
		}
	}
	for bid := range cl.buffers {
		if b, ok := s.buffers[bid]; ok {
			b.dead = true
			b.OnRelease = nil
			if !b.InUse() {
				delete(s.buffers, bid)
			}
		}
	}
	delete(s.clients, c)
	s.log.Debug("client removed", "client", c)
	return outs.Slice()
}
