package state

import "image"

// Output is a display sink in the global layout.
type Output struct {
	ID   OutputID
	Name string

	// Rect is the output's position and logical size in layout
	// coordinates.
	Rect image.Rectangle

	Scale      int
	RefreshMHz int32
	Transform  int32
}

// PixelSize is the output's size in device pixels.
func (o *Output) PixelSize() image.Point {
	return o.Rect.Size().Mul(o.Scale)
}

// AddOutput places an output into the layout.
func (s *Store) AddOutput(o Output) OutputID {
	if o.Scale < 1 {
		o.Scale = 1
	}
	o.ID = OutputID(s.nextID())
	s.outputs[o.ID] = &o
	s.log.Info("output added", "output", o.ID, "name", o.Name, "rect", o.Rect, "scale", o.Scale)
	return o.ID
}

// RemoveOutput drops an output from the layout, e.g. on hot-unplug.
// Surfaces are untouched; they simply stop being composited anywhere
// until another output covers them.
func (s *Store) RemoveOutput(id OutputID) error {
	if _, ok := s.outputs[id]; !ok {
		return stateErr(ErrUnknownOutput, 0, "")
	}
	delete(s.outputs, id)
	s.log.Info("output removed", "output", id)
	return nil
}

// Output looks up an output by id.
func (s *Store) Output(id OutputID) (*Output, bool) {
	o, ok := s.outputs[id]
	return o, ok
}
