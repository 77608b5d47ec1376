// Package damage accumulates dirty regions between presented frames.
// Surface-local damage is transformed into output space when it is
// marked, so each output carries one accumulator that collecting
// drains. Over-approximation (repainting a little extra) is fine;
// under-approximation would leave stale pixels and is a bug.
package damage

import (
	"image"

	"github.com/charmbracelet/log"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/internal/set"
	"lagoon.dev/loon/internal/wlog"
	"lagoon.dev/loon/state"
)

type Tracker struct {
	store *state.Store

	// outputs holds per-output damage in output-local logical
	// coordinates. Scaling to device pixels happens at collect time.
	outputs map[state.OutputID]region.Region
	full    set.Set[state.OutputID]
	log     *log.Logger
}

func New(store *state.Store) *Tracker {
	return &Tracker{
		store:   store,
		outputs: make(map[state.OutputID]region.Region),
		full:    make(set.Set[state.OutputID]),
		log:     wlog.Component("damage"),
	}
}

// Mark accumulates surface-local damage for sid, spreading it onto
// every output the surface intersects. It must be called while the
// surface still exists, at its post-commit position. Returns the
// outputs that picked up damage.
func (t *Tracker) Mark(sid state.SurfaceID, local region.Region) []state.OutputID {
	if local.Empty() {
		return nil
	}

	pos, err := t.store.AbsolutePosition(sid)
	if err != nil {
		return nil
	}
	return t.MarkLayout(local.Translate(pos))
}

// MarkLayout accumulates damage given in layout coordinates. Used
// when the surface that caused the damage is already gone, e.g. for
// the area an unmapped or destroyed surface used to cover.
func (t *Tracker) MarkLayout(layout region.Region) []state.OutputID {
	if layout.Empty() {
		return nil
	}

	var touched []state.OutputID
	for _, o := range t.store.Outputs() {
		d := layout.Intersect(o.Rect).Translate(o.Rect.Min.Mul(-1))
		if d.Empty() {
			continue
		}
		t.outputs[o.ID] = t.outputs[o.ID].Union(d)
		touched = append(touched, o.ID)
	}
	return touched
}

// InvalidateOutput marks the entire output damaged, bypassing
// incremental tracking. Used on mode changes and backend resets.
func (t *Tracker) InvalidateOutput(oid state.OutputID) {
	t.full.Add(oid)
	t.log.Debug("full invalidation", "output", oid)
}

// Has reports whether the output has damage pending, without
// collecting it.
func (t *Tracker) Has(oid state.OutputID) bool {
	return t.full.Has(oid) || !t.outputs[oid].Empty()
}

// Collect returns the output's accumulated damage in output-local
// logical coordinates and clears it. Collecting again without new
// damage in between yields an empty region.
func (t *Tracker) Collect(oid state.OutputID) region.Region {
	o, ok := t.store.Output(oid)
	if !ok {
		t.drop(oid)
		return nil
	}

	if t.full.Has(oid) {
		t.drop(oid)
		return region.FromRect(image.Rectangle{Max: o.Rect.Size()})
	}

	d := t.outputs[oid]
	delete(t.outputs, oid)
	return d
}

func (t *Tracker) drop(oid state.OutputID) {
	t.full.Delete(oid)
	delete(t.outputs, oid)
}

// DropOutput forgets all tracking for an output that went away.
func (t *Tracker) DropOutput(oid state.OutputID) {
	t.drop(oid)
}
