package input_test

import (
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/backend"
	"lagoon.dev/loon/input"
	"lagoon.dev/loon/state"
)

// recordSink logs routed events as compact strings so tests can
// assert on exact ordering.
type recordSink struct {
	events []string
}

func (r *recordSink) record(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordSink) PointerEnter(sid state.SurfaceID, serial uint32, pos image.Point) {
	r.record("enter %v %v", sid, pos)
}

func (r *recordSink) PointerLeave(sid state.SurfaceID, serial uint32) {
	r.record("leave %v", sid)
}

func (r *recordSink) PointerMotion(sid state.SurfaceID, time uint32, pos image.Point) {
	r.record("motion %v %v", sid, pos)
}

func (r *recordSink) PointerButton(sid state.SurfaceID, serial, time uint32, button input.Button, pressed bool) {
	r.record("button %v %v %v", sid, button, pressed)
}

func (r *recordSink) KeyboardEnter(sid state.SurfaceID, serial uint32) {
	r.record("kbd-enter %v", sid)
}

func (r *recordSink) KeyboardLeave(sid state.SurfaceID, serial uint32) {
	r.record("kbd-leave %v", sid)
}

func (r *recordSink) Key(sid state.SurfaceID, serial, time, code uint32, pressed bool) {
	r.record("key %v %v %v", sid, code, pressed)
}

func (r *recordSink) take() []string {
	evs := r.events
	r.events = nil
	return evs
}

func setup(t *testing.T) (*state.Store, state.SeatID, *input.Router, *recordSink) {
	t.Helper()
	s := state.New()
	seat := s.AddSeat("seat0", state.CapPointer|state.CapKeyboard|state.CapTouch)
	sink := &recordSink{}
	return s, seat, input.NewRouter(s, seat, sink), sink
}

func mapAt(t *testing.T, s *state.Store, c state.ClientID, pos image.Point, w, h int) state.SurfaceID {
	t.Helper()
	sid, err := s.CreateSurface(c)
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(c, sid, state.RoleToplevel, 0))
	bid, err := s.AddBuffer(c, image.NewRGBA(image.Rect(0, 0, w, h)), image.Pt(w, h))
	require.NoError(t, err)
	require.NoError(t, s.AttachBuffer(c, sid, bid))
	_, err = s.CommitSurface(c, sid)
	require.NoError(t, err)
	_, err = s.MoveSurface(sid, pos)
	require.NoError(t, err)
	return sid
}

func motion(r *input.Router, x, y int) {
	r.Dispatch(backend.PointerMotion{Time: 1, Pos: image.Pt(x, y)})
}

func press(r *input.Router, btn input.Button) {
	r.Dispatch(backend.PointerButton{Time: 1, Button: uint32(btn), Pressed: true})
}

func release(r *input.Router, btn input.Button) {
	r.Dispatch(backend.PointerButton{Time: 1, Button: uint32(btn), Pressed: false})
}

func TestMotionMovesFocusAcrossSurfaces(t *testing.T) {
	s, _, r, sink := setup(t)
	c := s.AddClient()
	a := mapAt(t, s, c, image.Pt(0, 0), 100, 100)
	b := mapAt(t, s, c, image.Pt(200, 0), 100, 100)

	motion(r, 10, 10)
	assert.Equal(t, []string{
		fmt.Sprintf("enter %v (10,10)", a),
		fmt.Sprintf("motion %v (10,10)", a),
	}, sink.take())

	motion(r, 20, 20)
	assert.Equal(t, []string{fmt.Sprintf("motion %v (20,20)", a)}, sink.take())

	// Crossing onto b leaves a first, then enters b at local coords.
	motion(r, 210, 10)
	assert.Equal(t, []string{
		fmt.Sprintf("leave %v", a),
		fmt.Sprintf("enter %v (10,10)", b),
		fmt.Sprintf("motion %v (10,10)", b),
	}, sink.take())

	// Off every surface: leave only, no motion to nobody.
	motion(r, 150, 150)
	assert.Equal(t, []string{fmt.Sprintf("leave %v", b)}, sink.take())
}

func TestImplicitGrabHoldsDeliveryAcrossSurfaces(t *testing.T) {
	s, seat, r, sink := setup(t)
	c := s.AddClient()
	a := mapAt(t, s, c, image.Pt(0, 0), 100, 100)
	b := mapAt(t, s, c, image.Pt(200, 0), 100, 100)

	motion(r, 50, 50)
	press(r, input.ButtonLeft)
	sink.take()

	st, _ := s.Seat(seat)
	require.True(t, st.Grab.Active)
	assert.Equal(t, a, st.Grab.Surface)

	// With the button held, motion over b still routes to a, in a's
	// coordinate space, even at negative coordinates.
	motion(r, 210, 10)
	assert.Equal(t, []string{fmt.Sprintf("motion %v (210,10)", a)}, sink.take())

	release(r, input.ButtonLeft)
	assert.Equal(t, []string{fmt.Sprintf("button %v left false", a)}, sink.take())
	assert.False(t, st.Grab.Active, "implicit grab ends with the last release")

	// Focus follows the pointer again.
	motion(r, 210, 10)
	assert.Equal(t, []string{
		fmt.Sprintf("leave %v", a),
		fmt.Sprintf("enter %v (10,10)", b),
		fmt.Sprintf("motion %v (10,10)", b),
	}, sink.take())
}

func TestImplicitGrabCountsButtons(t *testing.T) {
	s, seat, r, _ := setup(t)
	c := s.AddClient()
	mapAt(t, s, c, image.Pt(0, 0), 100, 100)

	motion(r, 50, 50)
	press(r, input.ButtonLeft)
	press(r, input.ButtonRight)
	release(r, input.ButtonLeft)

	st, _ := s.Seat(seat)
	assert.True(t, st.Grab.Active, "grab survives until the last button is up")

	release(r, input.ButtonRight)
	assert.False(t, st.Grab.Active)
}

func TestActivateOnPress(t *testing.T) {
	s, _, r, sink := setup(t)
	c := s.AddClient()
	a := mapAt(t, s, c, image.Pt(0, 0), 100, 100)
	b := mapAt(t, s, c, image.Pt(200, 0), 100, 100)

	var activated []state.SurfaceID
	r.OnActivate = func(top state.SurfaceID) {
		activated = append(activated, top)
		r.Activate(top)
	}

	motion(r, 50, 50)
	press(r, input.ButtonLeft)
	release(r, input.ButtonLeft)
	motion(r, 210, 10)
	press(r, input.ButtonLeft)
	release(r, input.ButtonLeft)

	assert.Equal(t, []state.SurfaceID{a, b}, activated)

	evs := sink.take()
	assert.Contains(t, evs, fmt.Sprintf("kbd-enter %v", a))
	assert.Contains(t, evs, fmt.Sprintf("kbd-leave %v", a))
	assert.Contains(t, evs, fmt.Sprintf("kbd-enter %v", b))
}

func TestKeyboardFocusIsSticky(t *testing.T) {
	s, _, r, sink := setup(t)
	c := s.AddClient()
	a := mapAt(t, s, c, image.Pt(0, 0), 100, 100)
	mapAt(t, s, c, image.Pt(200, 0), 100, 100)

	r.Activate(a)
	sink.take()

	// Pointer motion elsewhere must not move keyboard focus.
	motion(r, 210, 10)
	sink.take()

	r.Dispatch(backend.Key{Time: 1, Code: 30, Pressed: true})
	assert.Equal(t, []string{fmt.Sprintf("key %v 30 true", a)}, sink.take())
}

func TestKeyWithoutFocusIsDropped(t *testing.T) {
	s, _, r, sink := setup(t)
	c := s.AddClient()
	mapAt(t, s, c, image.Pt(0, 0), 100, 100)

	r.Dispatch(backend.Key{Time: 1, Code: 30, Pressed: true})
	assert.Empty(t, sink.take())
}

func TestExplicitGrabDismissedByOutsidePress(t *testing.T) {
	s, seat, r, sink := setup(t)
	c := s.AddClient()
	top := mapAt(t, s, c, image.Pt(0, 0), 300, 300)

	popup, err := s.CreateSurface(c)
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(c, popup, state.RolePopup, top))
	bid, err := s.AddBuffer(c, image.NewRGBA(image.Rect(0, 0, 80, 80)), image.Pt(80, 80))
	require.NoError(t, err)
	require.NoError(t, s.SetPendingPosition(c, popup, image.Pt(100, 100)))
	require.NoError(t, s.AttachBuffer(c, popup, bid))
	_, err = s.CommitSurface(c, popup)
	require.NoError(t, err)

	require.NoError(t, s.SetGrab(seat, popup))

	var dismissed []state.SurfaceID
	r.OnDismiss = func(g state.SurfaceID) { dismissed = append(dismissed, g) }

	// A press inside the popup keeps the grab.
	motion(r, 120, 120)
	press(r, input.ButtonLeft)
	release(r, input.ButtonLeft)
	assert.Empty(t, dismissed)
	st, _ := s.Seat(seat)
	assert.True(t, st.Grab.Active)
	sink.take()

	// A press outside its tree breaks it.
	motion(r, 10, 10)
	press(r, input.ButtonLeft)
	assert.Equal(t, []state.SurfaceID{popup}, dismissed)
	assert.True(t, st.Grab.Active, "the dismissing press starts an implicit grab")
	assert.Equal(t, top, st.Grab.Surface, "the press lands on the surface under the pointer")

	release(r, input.ButtonLeft)
	assert.False(t, st.Grab.Active)
}

func TestTouchFoldsIntoPointer(t *testing.T) {
	s, _, r, sink := setup(t)
	c := s.AddClient()
	a := mapAt(t, s, c, image.Pt(0, 0), 100, 100)

	r.Dispatch(backend.TouchDown{Time: 1, ID: 7, Pos: image.Pt(10, 10)})
	assert.Equal(t, []string{
		fmt.Sprintf("enter %v (10,10)", a),
		fmt.Sprintf("motion %v (10,10)", a),
		fmt.Sprintf("button %v left true", a),
	}, sink.take())

	// A second contact is ignored while the first is down.
	r.Dispatch(backend.TouchDown{Time: 2, ID: 8, Pos: image.Pt(90, 90)})
	assert.Empty(t, sink.take())

	r.Dispatch(backend.TouchMotion{Time: 3, ID: 7, Pos: image.Pt(20, 20)})
	assert.Equal(t, []string{fmt.Sprintf("motion %v (20,20)", a)}, sink.take())

	r.Dispatch(backend.TouchUp{Time: 4, ID: 8})
	assert.Empty(t, sink.take(), "unrelated contact lift is ignored")

	r.Dispatch(backend.TouchUp{Time: 5, ID: 7})
	assert.Equal(t, []string{fmt.Sprintf("button %v left false", a)}, sink.take())
}

func TestDestroyedFocusSurfaceIsForgotten(t *testing.T) {
	s, seat, r, sink := setup(t)
	c := s.AddClient()
	a := mapAt(t, s, c, image.Pt(0, 0), 100, 100)

	motion(r, 50, 50)
	sink.take()

	_, err := s.DestroySurface(c, a)
	require.NoError(t, err)

	st, _ := s.Seat(seat)
	assert.Zero(t, st.PointerFocus)

	// No leave for a surface that no longer exists.
	motion(r, 60, 60)
	assert.Empty(t, sink.take())
}
