package region_test

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/internal/region"
)

func rect(x0, y0, x1, y1 int) image.Rectangle {
	return image.Rect(x0, y0, x1, y1)
}

func TestAddPrunesContained(t *testing.T) {
	rg := region.FromRect(rect(0, 0, 100, 100))
	rg = rg.Add(rect(10, 10, 20, 20))
	assert.Len(t, rg, 1, "contained rectangle should be absorbed")

	rg = rg.Add(rect(50, 50, 200, 200))
	assert.Len(t, rg, 2)

	// A rectangle covering everything so far collapses the region.
	rg = rg.Add(rect(-10, -10, 300, 300))
	assert.Len(t, rg, 1)
	assert.Equal(t, rect(-10, -10, 300, 300), rg.Bounds())
}

func TestAddDoesNotAliasInput(t *testing.T) {
	base := region.Region{rect(0, 0, 10, 10), rect(20, 0, 30, 10)}
	snapshot := base.Clone()

	_ = base.Add(rect(0, 0, 50, 50))
	assert.Equal(t, snapshot, base, "Add must not mutate its receiver")
}

func TestSubtractExact(t *testing.T) {
	rg := region.FromRect(rect(0, 0, 100, 100)).Subtract(rect(25, 25, 75, 75))

	for _, p := range []image.Point{{0, 0}, {99, 99}, {24, 50}, {50, 24}, {75, 50}, {50, 75}} {
		assert.True(t, rg.Contains(p), "point %v should remain", p)
	}
	for _, p := range []image.Point{{25, 25}, {50, 50}, {74, 74}} {
		assert.False(t, rg.Contains(p), "point %v should be removed", p)
	}
}

func TestSubtractAll(t *testing.T) {
	rg := region.FromRect(rect(10, 10, 20, 20)).Subtract(rect(0, 0, 100, 100))
	assert.True(t, rg.Empty())
}

func TestCovers(t *testing.T) {
	rg := region.Region{rect(0, 0, 50, 100), rect(50, 0, 100, 100)}

	assert.True(t, rg.Covers(rect(25, 25, 75, 75)), "two abutting rects cover their union")
	assert.False(t, rg.Covers(rect(90, 90, 110, 110)))
	assert.True(t, rg.Covers(image.Rectangle{}), "empty rect is trivially covered")
}

func TestIntersectAndTranslate(t *testing.T) {
	rg := region.Region{rect(0, 0, 10, 10), rect(20, 0, 30, 10)}

	got := rg.Intersect(rect(5, 0, 25, 10))
	require.Len(t, got, 2)
	assert.Equal(t, rect(5, 0, 10, 10), got[0])
	assert.Equal(t, rect(20, 0, 25, 10), got[1])

	moved := got.Translate(image.Pt(100, 100))
	assert.Equal(t, rect(105, 100, 110, 110), moved[0])
}

func TestUnion(t *testing.T) {
	a := region.FromRect(rect(0, 0, 10, 10))
	b := region.FromRect(rect(5, 5, 15, 15))
	u := a.Union(b)

	assert.True(t, u.Contains(image.Pt(2, 2)))
	assert.True(t, u.Contains(image.Pt(12, 12)))
	assert.False(t, u.Contains(image.Pt(14, 2)))
}

func TestScale(t *testing.T) {
	rg := region.FromRect(rect(1, 2, 3, 4)).Scale(2)
	assert.Equal(t, rect(2, 4, 6, 8), rg.Bounds())
}
