package state

import (
	"cmp"
	"image"
	"slices"

	"golang.org/x/exp/maps"
)

// AbsolutePosition resolves a surface's position in layout
// coordinates by walking the parent chain.
func (s *Store) AbsolutePosition(sid SurfaceID) (image.Point, error) {
	sf, serr := s.surfaceOf(0, sid)
	if serr != nil {
		return image.Point{}, serr
	}

	p := sf.Current.Position
	for sf.Parent != 0 {
		parent, ok := s.surfaces[sf.Parent]
		if !ok {
			panic("state: parent id points at missing surface")
		}
		sf = parent
		p = p.Add(sf.Current.Position)
	}
	return p, nil
}

// outputsOf returns the outputs whose layout rectangle the surface
// currently intersects.
func (s *Store) outputsOf(sf *Surface) []OutputID {
	pos, err := s.AbsolutePosition(sf.ID)
	if err != nil {
		return nil
	}
	rect := PointRect(pos, sf.Current.Size)

	var out []OutputID
	for id, o := range s.outputs {
		if o.Rect.Overlaps(rect) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// OutputsOf returns the outputs that display the surface.
func (s *Store) OutputsOf(sid SurfaceID) []OutputID {
	sf, ok := s.surfaces[sid]
	if !ok {
		return nil
	}
	return s.outputsOf(sf)
}

// paintRoots returns the mapped toplevels back-to-front. Z stamps are
// unique, so the sort is total and ties cannot reorder between calls.
func (s *Store) paintRoots() []*Surface {
	var roots []*Surface
	for _, sf := range s.surfaces {
		if sf.Role == RoleToplevel && sf.Mapped {
			roots = append(roots, sf)
		}
	}
	slices.SortFunc(roots, func(a, b *Surface) int {
		return cmp.Compare(a.Z, b.Z)
	})
	return roots
}

func (s *Store) appendTree(order []SurfaceID, sf *Surface) []SurfaceID {
	order = append(order, sf.ID)
	for _, cid := range sf.Children {
		ch, ok := s.surfaces[cid]
		if !ok {
			panic("state: child id points at missing surface")
		}
		if ch.Mapped && ch.Role != RoleCursor {
			order = s.appendTree(order, ch)
		}
	}
	return order
}

// PaintOrder returns the surfaces to composite onto the output,
// back-to-front. Children paint above their parent, in insertion
// order. Cursor surfaces are excluded; the render scheduler draws
// them on top separately.
func (s *Store) PaintOrder(oid OutputID) []SurfaceID {
	o, ok := s.outputs[oid]
	if !ok {
		return nil
	}

	var order []SurfaceID
	for _, root := range s.paintRoots() {
		order = s.appendTree(order, root)
	}

	// Keep only trees that actually intersect the output.
	vis := order[:0]
	for _, sid := range order {
		sf := s.surfaces[sid]
		pos, _ := s.AbsolutePosition(sid)
		if PointRect(pos, sf.Current.Size).Overlaps(o.Rect) {
			vis = append(vis, sid)
		}
	}
	return vis
}

// SurfaceAt hit-tests the layout point p against the global paint
// order, topmost first. Surfaces whose input region is explicitly
// empty are transparent to input. Returns the surface and the
// surface-local coordinates of p.
func (s *Store) SurfaceAt(p image.Point) (SurfaceID, image.Point, bool) {
	var order []SurfaceID
	for _, root := range s.paintRoots() {
		order = s.appendTree(order, root)
	}

	for i := len(order) - 1; i >= 0; i-- {
		sf := s.surfaces[order[i]]
		pos, _ := s.AbsolutePosition(sf.ID)
		local := p.Sub(pos)
		if sf.AcceptsInputAt(local) {
			return sf.ID, local, true
		}
	}
	return 0, image.Point{}, false
}

// Surface looks up a surface by id for read-only inspection.
func (s *Store) Surface(sid SurfaceID) (*Surface, bool) {
	sf, ok := s.surfaces[sid]
	return sf, ok
}

// Surfaces lists all surface ids in creation order.
func (s *Store) Surfaces() []SurfaceID {
	ids := maps.Keys(s.surfaces)
	slices.Sort(ids)
	return ids
}

// Outputs lists all outputs in creation order.
func (s *Store) Outputs() []*Output {
	ids := maps.Keys(s.outputs)
	slices.Sort(ids)
	out := make([]*Output, len(ids))
	for i, id := range ids {
		out[i] = s.outputs[id]
	}
	return out
}

// Seats lists all seat ids in creation order.
func (s *Store) Seats() []SeatID {
	ids := maps.Keys(s.seats)
	slices.Sort(ids)
	return ids
}
