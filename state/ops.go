package state

import (
	"image"

	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/internal/xslices"
)

// DestroyResult reports the side effects of destroying a surface.
type DestroyResult struct {
	// Outputs that displayed the surface and now need redrawing.
	Outputs []OutputID

	// Layout is the layout-space region the surface used to cover.
	Layout region.Region
}

// CommitResult reports the side effects of a commit.
type CommitResult struct {
	// Outputs the surface is now visible on; they need the damage
	// below repainted.
	Outputs []OutputID

	// Damage is the surface-local region that changed with this
	// commit.
	Damage region.Region
}

// surfaceOf looks up sid and verifies that c owns it. c == 0 skips
// the ownership check for compositor-internal operations.
func (s *Store) surfaceOf(c ClientID, sid SurfaceID) (*Surface, *Error) {
	sf, ok := s.surfaces[sid]
	if !ok {
		return nil, stateErr(ErrUnknownSurface, sid, "")
	}
	if c != 0 && sf.Client != c {
		return nil, stateErr(ErrClientMismatch, sid, "surface belongs to another client")
	}
	return sf, nil
}

// CreateSurface creates a role-less surface owned by c.
func (s *Store) CreateSurface(c ClientID) (SurfaceID, error) {
	cl, ok := s.clients[c]
	if !ok {
		return 0, stateErr(ErrUnknownClient, 0, "")
	}

	id := SurfaceID(s.nextID())
	s.zstamp++
	s.surfaces[id] = &Surface{
		ID:     id,
		Client: c,
		Z:      s.zstamp,
	}
	cl.surfaces.Add(id)
	s.log.Debug("surface created", "surface", id, "client", c)
	return id, nil
}

// DestroySurface removes a surface. Seat focus and grab references to
// it are cleared in this same operation, children are orphaned, and
// the current buffer reference is dropped.
func (s *Store) DestroySurface(c ClientID, sid SurfaceID) (DestroyResult, error) {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return DestroyResult{}, serr
	}

	outs := s.outputsOf(sf)
	var layout region.Region
	if sf.Mapped {
		pos, _ := s.AbsolutePosition(sid)
		layout = region.FromRect(PointRect(pos, sf.Current.Size))
	}

	// Focus and render tracking first, so nothing observes a
	// half-dead surface.
	s.clearSurfaceFromSeats(sid)

	if p, ok := s.surfaces[sf.Parent]; ok {
		p.Children = xslices.Remove(p.Children, sid)
	}
	for _, cid := range sf.Children {
		ch, ok := s.surfaces[cid]
		if !ok {
			panic("state: child id points at missing surface")
		}
		ch.Parent = 0
		if ch.Role == RolePopup || ch.Role == RoleSubsurface {
			// These roles position relative to a parent; without one
			// they cannot be shown.
			ch.Mapped = false
		}
	}

	s.unrefBuffer(sf.Current.Buffer)
	if cl, ok := s.clients[sf.Client]; ok {
		cl.surfaces.Delete(sid)
	}
	delete(s.surfaces, sid)
	s.log.Debug("surface destroyed", "surface", sid, "client", c)
	return DestroyResult{Outputs: outs, Layout: layout}, nil
}

// AssignRole gives a role-less surface its role. Role assignment is
// permanent; any second assignment is an error. Popup and subsurface
// roles need a parent, and the parent relation must stay acyclic.
func (s *Store) AssignRole(c ClientID, sid SurfaceID, role Role, parent SurfaceID) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	if role == RoleNone {
		return stateErr(ErrInvalidRoleTransition, sid, "cannot assign the null role")
	}
	if sf.Role != RoleNone {
		return stateErr(ErrInvalidRoleTransition, sid, "surface already has role "+sf.Role.String())
	}

	needsParent := role == RolePopup || role == RoleSubsurface
	if needsParent {
		p, ok := s.surfaces[parent]
		if !ok {
			return stateErr(ErrInvalidParent, sid, "unknown parent surface")
		}
		for anc := p; anc != nil; anc = s.surfaces[anc.Parent] {
			if anc.ID == sid {
				return stateErr(ErrInvalidParent, sid, "parent relation would cycle")
			}
		}
		sf.Parent = parent
		p.Children = append(p.Children, sid)
	} else if parent != 0 {
		return stateErr(ErrInvalidParent, sid, "role does not take a parent")
	}

	sf.Role = role
	s.log.Debug("role assigned", "surface", sid, "role", role)
	return nil
}

// AttachBuffer stages a buffer for the next commit. id 0 stages a
// null attach, which unmaps the surface when committed.
func (s *Store) AttachBuffer(c ClientID, sid SurfaceID, id BufferID) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	if id != 0 {
		b, ok := s.buffers[id]
		if !ok || b.dead {
			return stateErr(ErrUnknownBuffer, sid, "attach of unknown or destroyed buffer")
		}
		if b.Client != c {
			return stateErr(ErrClientMismatch, sid, "buffer belongs to another client")
		}
	}
	sf.Pending.Buffer = id
	sf.Pending.Attached = true
	return nil
}

// DamagePending accumulates surface-local damage for the next commit.
func (s *Store) DamagePending(c ClientID, sid SurfaceID, r image.Rectangle) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	sf.Pending.Damage = sf.Pending.Damage.Add(r)
	return nil
}

// SetOpaqueRegion stages the surface's opaque region.
func (s *Store) SetOpaqueRegion(c ClientID, sid SurfaceID, rg region.Region) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	sf.Pending.Opaque = rg.Clone()
	sf.Pending.OpaqueSet = true
	return nil
}

// SetInputRegion stages the surface's input region. set = false
// resets to the default (the whole surface).
func (s *Store) SetInputRegion(c ClientID, sid SurfaceID, rg region.Region, isSet bool) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	sf.Pending.Input = rg.Clone()
	sf.Pending.InputSet = isSet
	sf.Pending.InputIsSet = true
	return nil
}

// SetPendingPosition stages a new position relative to the surface's
// parent, applied on the next commit. Used for subsurfaces and popup
// placement.
func (s *Store) SetPendingPosition(c ClientID, sid SurfaceID, p image.Point) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	sf.Pending.Position = p
	sf.Pending.PositionSet = true
	return nil
}

// MoveSurface repositions a surface immediately, compositor-side.
// Returns the layout-space region that needs repainting, covering
// both the old and the new location.
func (s *Store) MoveSurface(sid SurfaceID, p image.Point) (region.Region, error) {
	sf, serr := s.surfaceOf(0, sid)
	if serr != nil {
		return nil, serr
	}

	old, _ := s.AbsolutePosition(sid)
	dmg := region.FromRect(PointRect(old, sf.Current.Size))
	sf.Current.Position = p
	abs, _ := s.AbsolutePosition(sid)
	return dmg.Add(PointRect(abs, sf.Current.Size)), nil
}

// Raise puts a surface on top of its siblings and returns the
// layout-space region it covers.
func (s *Store) Raise(sid SurfaceID) (region.Region, error) {
	sf, serr := s.surfaceOf(0, sid)
	if serr != nil {
		return nil, serr
	}
	s.zstamp++
	sf.Z = s.zstamp
	abs, _ := s.AbsolutePosition(sid)
	return region.FromRect(PointRect(abs, sf.Current.Size)), nil
}

// Unmap hides a surface whose role object went away without the
// wl_surface itself being destroyed. The staged state survives; a
// later commit with a buffer maps the surface again.
func (s *Store) Unmap(c ClientID, sid SurfaceID) (region.Region, error) {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return nil, serr
	}
	if !sf.Mapped {
		return nil, nil
	}

	pos, _ := s.AbsolutePosition(sid)
	covered := region.FromRect(PointRect(pos, sf.Current.Size))

	s.unrefBuffer(sf.Current.Buffer)
	sf.Current.Buffer = 0
	sf.Current.Size = image.Point{}
	sf.Mapped = false
	return covered, nil
}

// Restack moves sid directly above or below sibling in their shared
// parent's child order.
func (s *Store) Restack(c ClientID, sid, sibling SurfaceID, above bool) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	sib, ok := s.surfaces[sibling]
	if !ok {
		return stateErr(ErrUnknownSurface, sid, "unknown sibling surface")
	}
	p, ok := s.surfaces[sf.Parent]
	if !ok {
		return stateErr(ErrInvalidParent, sid, "surface has no parent to restack within")
	}
	if sib.Parent != sf.Parent && sibling != sf.Parent {
		return stateErr(ErrInvalidParent, sid, "restack target is not a sibling")
	}

	children := xslices.Remove(p.Children, sid)
	at := len(children)
	for i, id := range children {
		if id == sibling {
			at = i
			if above {
				at = i + 1
			}
			break
		}
	}
	if sibling == sf.Parent {
		// Relative to the parent itself: below means first, above
		// means after every existing child.
		at = 0
		if above {
			at = len(children)
		}
	}
	p.Children = append(children[:at:at], append([]SurfaceID{sid}, children[at:]...)...)
	return nil
}

// CommitSurface atomically replaces the surface's current state with
// its pending state. Partial application is impossible: either every
// touched field is applied and the result returned, or the state is
// left untouched and an error describes the protocol violation.
func (s *Store) CommitSurface(c ClientID, sid SurfaceID) (CommitResult, error) {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return CommitResult{}, serr
	}

	var newBuf *Buffer
	if sf.Pending.Attached && sf.Pending.Buffer != 0 {
		b, ok := s.buffers[sf.Pending.Buffer]
		if !ok || b.dead {
			return CommitResult{}, stateErr(ErrUnknownBuffer, sid, "committed buffer no longer exists")
		}
		newBuf = b

		// A buffer whose size disagrees with the configuration the
		// client acked is a protocol error. The first commit before
		// any configure was acked is legal.
		if sf.Role == RoleToplevel && sf.AckedSize != (image.Point{}) && b.Size != sf.AckedSize {
			return CommitResult{}, stateErr(ErrBufferSizeMismatch, sid,
				"committed "+b.Size.String()+" against acked "+sf.AckedSize.String())
		}
	}

	// Validation is done; apply everything below this line.
	oldBounds := sf.Bounds()
	wasMapped := sf.Mapped

	if sf.Pending.Attached {
		s.unrefBuffer(sf.Current.Buffer)
		sf.Current.Buffer = sf.Pending.Buffer
		if newBuf != nil {
			newBuf.Ref()
			sf.Current.Size = newBuf.Size
			sf.Mapped = true
		} else {
			sf.Current.Size = image.Point{}
			sf.Mapped = false
		}
	}
	if sf.Pending.PositionSet {
		sf.Current.Position = sf.Pending.Position
	}
	if sf.Pending.OpaqueSet {
		sf.Current.Opaque = sf.Pending.Opaque
	}
	if sf.Pending.InputIsSet {
		sf.Current.Input = sf.Pending.Input
		sf.Current.InputSet = sf.Pending.InputSet
	}

	dmg := sf.Pending.Damage.Intersect(sf.Bounds())
	if sf.Pending.Attached && (!wasMapped || sf.Bounds() != oldBounds || dmg.Empty()) {
		// Newly mapped, resized, or attach without explicit damage:
		// repaint the whole surface. Over-approximation is fine,
		// stale pixels are not.
		dmg = region.FromRect(sf.Bounds()).Union(region.FromRect(oldBounds))
	}

	if sf.Configure == AckPending {
		sf.Configure = Configured
	}

	sf.Pending = Pending{}

	res := CommitResult{Damage: dmg}
	if sf.Mapped || wasMapped {
		res.Outputs = s.outputsOf(sf)
	}
	return res, nil
}

// SendConfigure records that a configure for the given size is being
// sent to the surface and returns the serial to put in the event.
func (s *Store) SendConfigure(sid SurfaceID, size image.Point) (uint32, error) {
	sf, serr := s.surfaceOf(0, sid)
	if serr != nil {
		return 0, serr
	}
	serial := s.NextSerial()
	sf.Configure = ConfigureSent
	sf.SentSerial = serial
	sf.SentSize = size
	return serial, nil
}

// AckConfigure handles the client acknowledging a configure. An ack
// with no configure outstanding, or for a serial that was never sent,
// is a protocol error.
func (s *Store) AckConfigure(c ClientID, sid SurfaceID, serial uint32) error {
	sf, serr := s.surfaceOf(c, sid)
	if serr != nil {
		return serr
	}
	if sf.Configure == Unconfigured {
		return stateErr(ErrInvalidAck, sid, "ack before any configure was sent")
	}
	if serial != sf.SentSerial {
		return stateErr(ErrInvalidAck, sid, "ack for a serial that was never sent")
	}
	sf.AckedSerial = serial
	sf.AckedSize = sf.SentSize
	sf.Configure = AckPending
	return nil
}
