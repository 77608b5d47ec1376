package state_test

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/state"
)

func moveTo(t *testing.T, s *state.Store, sid state.SurfaceID, p image.Point) {
	t.Helper()
	_, err := s.MoveSurface(sid, p)
	require.NoError(t, err)
}

func TestAbsolutePositionWalksParents(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	top := mapToplevel(t, s, c, 100, 100)
	moveTo(t, s, top, image.Pt(50, 60))

	sub, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, sub, state.RoleSubsurface, top))
	require.NoError(t, s.SetPendingPosition(c, sub, image.Pt(10, 20)))
	require.NoError(t, s.AttachBuffer(c, sub, newBuffer(t, s, c, 30, 30)))
	_, err := s.CommitSurface(c, sub)
	require.NoError(t, err)

	pos, err := s.AbsolutePosition(sub)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(60, 80), pos)
}

func TestPaintOrderFollowsZAndChildren(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	oid := s.AddOutput(state.Output{Name: "out", Rect: image.Rect(0, 0, 1000, 1000), Scale: 1})

	first := mapToplevel(t, s, c, 100, 100)
	second := mapToplevel(t, s, c, 100, 100)

	childA, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, childA, state.RoleSubsurface, first))
	require.NoError(t, s.AttachBuffer(c, childA, newBuffer(t, s, c, 10, 10)))
	_, err := s.CommitSurface(c, childA)
	require.NoError(t, err)

	childB, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, childB, state.RoleSubsurface, first))
	require.NoError(t, s.AttachBuffer(c, childB, newBuffer(t, s, c, 10, 10)))
	_, err = s.CommitSurface(c, childB)
	require.NoError(t, err)

	// Creation order back to front, children directly above their
	// parent in insertion order.
	assert.Equal(t, []state.SurfaceID{first, childA, childB, second}, s.PaintOrder(oid))

	_, err = s.Raise(first)
	require.NoError(t, err)
	assert.Equal(t, []state.SurfaceID{second, first, childA, childB}, s.PaintOrder(oid))

	require.NoError(t, s.Restack(c, childA, childB, true))
	assert.Equal(t, []state.SurfaceID{second, first, childB, childA}, s.PaintOrder(oid))
}

func TestPaintOrderSkipsOffOutputTrees(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	left := s.AddOutput(state.Output{Name: "left", Rect: image.Rect(0, 0, 500, 500), Scale: 1})
	right := s.AddOutput(state.Output{Name: "right", Rect: image.Rect(500, 0, 1000, 500), Scale: 1})

	here := mapToplevel(t, s, c, 100, 100)
	there := mapToplevel(t, s, c, 100, 100)
	moveTo(t, s, there, image.Pt(700, 0))
	straddle := mapToplevel(t, s, c, 100, 100)
	moveTo(t, s, straddle, image.Pt(450, 0))

	assert.Equal(t, []state.SurfaceID{here, straddle}, s.PaintOrder(left))
	assert.Equal(t, []state.SurfaceID{there, straddle}, s.PaintOrder(right))
}

func TestSurfaceAtPicksTopmost(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	below := mapToplevel(t, s, c, 200, 200)
	above := mapToplevel(t, s, c, 100, 100)
	moveTo(t, s, above, image.Pt(50, 50))

	sid, local, ok := s.SurfaceAt(image.Pt(60, 60))
	require.True(t, ok)
	assert.Equal(t, above, sid)
	assert.Equal(t, image.Pt(10, 10), local)

	sid, local, ok = s.SurfaceAt(image.Pt(10, 10))
	require.True(t, ok)
	assert.Equal(t, below, sid)
	assert.Equal(t, image.Pt(10, 10), local)

	_, _, ok = s.SurfaceAt(image.Pt(900, 900))
	assert.False(t, ok)
}

func TestSurfaceAtHonorsInputRegion(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	below := mapToplevel(t, s, c, 200, 200)
	above := mapToplevel(t, s, c, 200, 200)

	// Only the left half of the top surface takes input.
	require.NoError(t, s.SetInputRegion(c, above, region.FromRect(image.Rect(0, 0, 100, 200)), true))
	_, err := s.CommitSurface(c, above)
	require.NoError(t, err)

	sid, _, ok := s.SurfaceAt(image.Pt(50, 50))
	require.True(t, ok)
	assert.Equal(t, above, sid)

	sid, _, ok = s.SurfaceAt(image.Pt(150, 50))
	require.True(t, ok)
	assert.Equal(t, below, sid, "input-transparent area falls through")

	// An explicitly empty input region makes the whole surface
	// transparent to input, not default-everything.
	require.NoError(t, s.SetInputRegion(c, above, nil, true))
	_, err = s.CommitSurface(c, above)
	require.NoError(t, err)

	sid, _, ok = s.SurfaceAt(image.Pt(50, 50))
	require.True(t, ok)
	assert.Equal(t, below, sid)
}

func TestSurfaceAtSkipsUnmappedAndCursor(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	top := mapToplevel(t, s, c, 100, 100)

	cursor, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, cursor, state.RoleCursor, 0))
	require.NoError(t, s.AttachBuffer(c, cursor, newBuffer(t, s, c, 16, 16)))
	_, err := s.CommitSurface(c, cursor)
	require.NoError(t, err)

	sid, _, ok := s.SurfaceAt(image.Pt(5, 5))
	require.True(t, ok)
	assert.Equal(t, top, sid, "cursor surfaces never take input")

	require.NoError(t, s.AttachBuffer(c, top, 0))
	_, err = s.CommitSurface(c, top)
	require.NoError(t, err)

	_, _, ok = s.SurfaceAt(image.Pt(5, 5))
	assert.False(t, ok, "unmapped surfaces are not hit-tested")
}

func TestOutputsOfTracksOverlap(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	left := s.AddOutput(state.Output{Name: "left", Rect: image.Rect(0, 0, 500, 500), Scale: 1})
	right := s.AddOutput(state.Output{Name: "right", Rect: image.Rect(500, 0, 1000, 500), Scale: 1})

	sid := mapToplevel(t, s, c, 100, 100)
	assert.Equal(t, []state.OutputID{left}, s.OutputsOf(sid))

	moveTo(t, s, sid, image.Pt(450, 0))
	assert.ElementsMatch(t, []state.OutputID{left, right}, s.OutputsOf(sid))

	moveTo(t, s, sid, image.Pt(600, 0))
	assert.Equal(t, []state.OutputID{right}, s.OutputsOf(sid))
}
