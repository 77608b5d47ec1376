// Package region implements rectangle-list region algebra. Regions
// are what damage tracking and opaque-region optimization are made
// of, so the operations here must never under-approximate: a point
// that was added to a region stays in it until it is subtracted.
package region

import "image"

// Region is a set of pixels represented as a list of rectangles. The
// rectangles may overlap; operations keep the list small by dropping
// rectangles contained in others but make no stronger guarantees.
type Region []image.Rectangle

// FromRect returns a region covering exactly r.
func FromRect(r image.Rectangle) Region {
	if r.Empty() {
		return nil
	}
	return Region{r.Canon()}
}

func (rg Region) Empty() bool {
	for _, r := range rg {
		if !r.Empty() {
			return false
		}
	}
	return true
}

// Bounds returns the smallest rectangle containing the whole region.
func (rg Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, r := range rg {
		b = b.Union(r)
	}
	return b
}

// Add returns rg with r added.
func (rg Region) Add(r image.Rectangle) Region {
	r = r.Canon()
	if r.Empty() {
		return rg
	}

	out := make(Region, 0, len(rg)+1)
	for _, e := range rg {
		if r.In(e) {
			return rg
		}
		if !e.In(r) {
			out = append(out, e)
		}
	}
	return append(out, r)
}

// Union returns the union of rg and other.
func (rg Region) Union(other Region) Region {
	for _, r := range other {
		rg = rg.Add(r)
	}
	return rg
}

// Intersect returns the part of rg that lies inside r.
func (rg Region) Intersect(r image.Rectangle) Region {
	var out Region
	for _, e := range rg {
		if i := e.Intersect(r); !i.Empty() {
			out = append(out, i)
		}
	}
	return out
}

// Subtract returns rg with r removed. The result is exact: every
// rectangle overlapping r is split into the up to four bands that
// remain around it.
func (rg Region) Subtract(r image.Rectangle) Region {
	r = r.Canon()
	if r.Empty() {
		return rg
	}

	var out Region
	for _, e := range rg {
		i := e.Intersect(r)
		if i.Empty() {
			out = append(out, e)
			continue
		}

		if e.Min.Y < i.Min.Y { // band above
			out = append(out, image.Rect(e.Min.X, e.Min.Y, e.Max.X, i.Min.Y))
		}
		if i.Max.Y < e.Max.Y { // band below
			out = append(out, image.Rect(e.Min.X, i.Max.Y, e.Max.X, e.Max.Y))
		}
		if e.Min.X < i.Min.X { // band to the left
			out = append(out, image.Rect(e.Min.X, i.Min.Y, i.Min.X, i.Max.Y))
		}
		if i.Max.X < e.Max.X { // band to the right
			out = append(out, image.Rect(i.Max.X, i.Min.Y, e.Max.X, i.Max.Y))
		}
	}
	return out
}

// Contains reports whether the pixel whose top-left corner is p is in
// the region.
func (rg Region) Contains(p image.Point) bool {
	for _, r := range rg {
		if p.In(r) {
			return true
		}
	}
	return false
}

// Covers reports whether rg covers every pixel of r.
func (rg Region) Covers(r image.Rectangle) bool {
	rem := FromRect(r)
	for _, e := range rg {
		rem = rem.Subtract(e)
		if rem.Empty() {
			return true
		}
	}
	return rem.Empty()
}

// Translate returns rg moved by off.
func (rg Region) Translate(off image.Point) Region {
	out := make(Region, len(rg))
	for i, r := range rg {
		out[i] = r.Add(off)
	}
	return out
}

// Scale returns rg with every coordinate multiplied by f. Used to
// transform surface-local damage into output pixels for scaled
// outputs.
func (rg Region) Scale(f int) Region {
	if f == 1 {
		return rg
	}
	out := make(Region, len(rg))
	for i, r := range rg {
		out[i] = image.Rect(r.Min.X*f, r.Min.Y*f, r.Max.X*f, r.Max.Y*f)
	}
	return out
}

// Clone returns a copy of rg that does not share storage with it.
func (rg Region) Clone() Region {
	out := make(Region, len(rg))
	copy(out, rg)
	return out
}
