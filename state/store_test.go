package state_test

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/internal/region"
	"lagoon.dev/loon/state"
)

func newBuffer(t *testing.T, s *state.Store, c state.ClientID, w, h int) state.BufferID {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	id, err := s.AddBuffer(c, img, image.Pt(w, h))
	require.NoError(t, err)
	return id
}

func mapToplevel(t *testing.T, s *state.Store, c state.ClientID, w, h int) state.SurfaceID {
	t.Helper()
	sid, err := s.CreateSurface(c)
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(c, sid, state.RoleToplevel, 0))
	require.NoError(t, s.AttachBuffer(c, sid, newBuffer(t, s, c, w, h)))
	_, err = s.CommitSurface(c, sid)
	require.NoError(t, err)
	return sid
}

func errCode(t *testing.T, err error) state.ErrorCode {
	t.Helper()
	var serr *state.Error
	require.ErrorAs(t, err, &serr)
	return serr.Code
}

func TestCommitAppliesPendingAtomically(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	sid, err := s.CreateSurface(c)
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(c, sid, state.RoleToplevel, 0))

	bid := newBuffer(t, s, c, 64, 64)
	require.NoError(t, s.AttachBuffer(c, sid, bid))
	require.NoError(t, s.DamagePending(c, sid, image.Rect(0, 0, 10, 10)))
	require.NoError(t, s.SetOpaqueRegion(c, sid, region.FromRect(image.Rect(0, 0, 64, 64))))

	sf, _ := s.Surface(sid)
	assert.False(t, sf.Mapped, "nothing applies before commit")
	assert.Zero(t, sf.Current.Buffer)

	res, err := s.CommitSurface(c, sid)
	require.NoError(t, err)

	assert.True(t, sf.Mapped)
	assert.Equal(t, bid, sf.Current.Buffer)
	assert.Equal(t, image.Pt(64, 64), sf.Current.Size)
	assert.True(t, res.Damage.Covers(image.Rect(0, 0, 64, 64)), "first map damages the whole surface")
	assert.Zero(t, sf.Pending, "pending resets after commit")
}

func TestCommitSizeMismatchLeavesStateUntouched(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	sid := mapToplevel(t, s, c, 64, 64)

	serial, err := s.SendConfigure(sid, image.Pt(100, 100))
	require.NoError(t, err)
	require.NoError(t, s.AckConfigure(c, sid, serial))

	// A buffer that disagrees with the acked size must fail the whole
	// commit, leaving the current state exactly as it was.
	require.NoError(t, s.AttachBuffer(c, sid, newBuffer(t, s, c, 50, 50)))
	_, err = s.CommitSurface(c, sid)
	assert.Equal(t, state.ErrBufferSizeMismatch, errCode(t, err))

	sf, _ := s.Surface(sid)
	assert.Equal(t, image.Pt(64, 64), sf.Current.Size)
	assert.True(t, sf.Mapped)

	require.NoError(t, s.AttachBuffer(c, sid, newBuffer(t, s, c, 100, 100)))
	_, err = s.CommitSurface(c, sid)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 100), sf.Current.Size)
}

func TestConfigureAckCycle(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	sid := mapToplevel(t, s, c, 32, 32)

	err := s.AckConfigure(c, sid, 1)
	assert.Equal(t, state.ErrInvalidAck, errCode(t, err), "ack before configure")

	serial, err := s.SendConfigure(sid, image.Pt(200, 150))
	require.NoError(t, err)

	err = s.AckConfigure(c, sid, serial+17)
	assert.Equal(t, state.ErrInvalidAck, errCode(t, err), "ack of a never-sent serial")

	require.NoError(t, s.AckConfigure(c, sid, serial))
	sf, _ := s.Surface(sid)
	assert.Equal(t, state.AckPending, sf.Configure)
	assert.Equal(t, image.Pt(200, 150), sf.AckedSize)

	require.NoError(t, s.AttachBuffer(c, sid, newBuffer(t, s, c, 200, 150)))
	_, err = s.CommitSurface(c, sid)
	require.NoError(t, err)
	assert.Equal(t, state.Configured, sf.Configure)
}

func TestRoleIsPermanent(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	sid, err := s.CreateSurface(c)
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(c, sid, state.RoleToplevel, 0))

	err = s.AssignRole(c, sid, state.RolePopup, 0)
	assert.Equal(t, state.ErrInvalidRoleTransition, errCode(t, err))

	err = s.AssignRole(c, sid, state.RoleToplevel, 0)
	assert.Equal(t, state.ErrInvalidRoleTransition, errCode(t, err), "even the same role cannot be assigned twice")
}

func TestParentCycleRejected(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	a, _ := s.CreateSurface(c)
	b, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, a, state.RoleToplevel, 0))
	require.NoError(t, s.AssignRole(c, b, state.RoleSubsurface, a))

	// A role-less surface can already be the parent of others. Giving
	// it a role whose parent sits in its own subtree must fail.
	x, _ := s.CreateSurface(c)
	y, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, y, state.RolePopup, x))

	err := s.AssignRole(c, x, state.RoleSubsurface, y)
	assert.Equal(t, state.ErrInvalidParent, errCode(t, err))

	e, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, e, state.RolePopup, b))
	sf, _ := s.Surface(e)
	assert.Equal(t, b, sf.Parent)
}

func TestDestroySurfaceClearsSeatsAndChildren(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	seat := s.AddSeat("seat0", state.CapPointer|state.CapKeyboard)

	parent := mapToplevel(t, s, c, 100, 100)
	child, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, child, state.RoleSubsurface, parent))
	require.NoError(t, s.AttachBuffer(c, child, newBuffer(t, s, c, 10, 10)))
	_, err := s.CommitSurface(c, child)
	require.NoError(t, err)

	require.NoError(t, s.SetPointerFocus(seat, parent))
	require.NoError(t, s.SetKeyboardFocus(seat, parent))
	require.NoError(t, s.SetGrab(seat, parent))

	_, err = s.DestroySurface(c, parent)
	require.NoError(t, err)

	st, _ := s.Seat(seat)
	assert.Zero(t, st.PointerFocus)
	assert.Zero(t, st.KeyboardFocus)
	assert.False(t, st.Grab.Active)

	ch, ok := s.Surface(child)
	require.True(t, ok, "children are orphaned, not destroyed")
	assert.Zero(t, ch.Parent)
	assert.False(t, ch.Mapped, "a subsurface cannot stay mapped without its parent")
}

func TestBufferReleaseExactlyOncePerCycle(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	sid, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, sid, state.RoleToplevel, 0))

	releases := 0
	first := newBuffer(t, s, c, 16, 16)
	b, _ := s.Buffer(first)
	b.OnRelease = func() { releases++ }

	require.NoError(t, s.AttachBuffer(c, sid, first))
	_, err := s.CommitSurface(c, sid)
	require.NoError(t, err)
	assert.Zero(t, releases, "displayed buffer stays held")

	// Committing a replacement buffer releases the old one once.
	require.NoError(t, s.AttachBuffer(c, sid, newBuffer(t, s, c, 16, 16)))
	_, err = s.CommitSurface(c, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, releases)

	// A commit that does not attach must not touch buffer refs.
	require.NoError(t, s.DamagePending(c, sid, image.Rect(0, 0, 1, 1)))
	_, err = s.CommitSurface(c, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, releases)
}

func TestNullAttachUnmaps(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	sid := mapToplevel(t, s, c, 40, 40)

	require.NoError(t, s.AttachBuffer(c, sid, 0))
	_, err := s.CommitSurface(c, sid)
	require.NoError(t, err)

	sf, _ := s.Surface(sid)
	assert.False(t, sf.Mapped)
	assert.Zero(t, sf.Current.Buffer)
}

func TestClientOwnershipEnforced(t *testing.T) {
	s := state.New()
	c1 := s.AddClient()
	c2 := s.AddClient()

	sid := mapToplevel(t, s, c1, 20, 20)

	_, err := s.CommitSurface(c2, sid)
	assert.Equal(t, state.ErrClientMismatch, errCode(t, err))

	err = s.AttachBuffer(c2, sid, newBuffer(t, s, c2, 20, 20))
	assert.Equal(t, state.ErrClientMismatch, errCode(t, err))

	// And a client cannot attach another client's buffer.
	err = s.AttachBuffer(c1, sid, newBuffer(t, s, c2, 20, 20))
	assert.Equal(t, state.ErrClientMismatch, errCode(t, err))
}

func TestRemoveClientCascades(t *testing.T) {
	s := state.New()
	s.AddOutput(state.Output{Name: "out", Rect: image.Rect(0, 0, 500, 500), Scale: 1})
	seat := s.AddSeat("seat0", state.CapPointer)

	c1 := s.AddClient()
	c2 := s.AddClient()
	victim := mapToplevel(t, s, c1, 100, 100)
	survivor := mapToplevel(t, s, c2, 100, 100)
	require.NoError(t, s.SetPointerFocus(seat, victim))

	outs := s.RemoveClient(c1)
	assert.NotEmpty(t, outs, "removing a visible client reports its outputs")

	_, ok := s.Surface(victim)
	assert.False(t, ok)
	_, ok = s.Surface(survivor)
	assert.True(t, ok, "other clients' surfaces survive")

	st, _ := s.Seat(seat)
	assert.Zero(t, st.PointerFocus)

	assert.Empty(t, s.RemoveClient(c1), "removal is idempotent")
}

func TestDestroyedBufferCommitFails(t *testing.T) {
	s := state.New()
	c := s.AddClient()
	sid, _ := s.CreateSurface(c)
	require.NoError(t, s.AssignRole(c, sid, state.RoleToplevel, 0))

	bid := newBuffer(t, s, c, 8, 8)
	require.NoError(t, s.AttachBuffer(c, sid, bid))
	require.NoError(t, s.DestroyBuffer(c, bid))

	_, err := s.CommitSurface(c, sid)
	assert.Equal(t, state.ErrUnknownBuffer, errCode(t, err))

	var serr *state.Error
	assert.True(t, errors.As(err, &serr))
	assert.Equal(t, sid, serr.Surface)
}

func TestReleaseBufferReapsDestroyed(t *testing.T) {
	s := state.New()
	c := s.AddClient()

	bid := newBuffer(t, s, c, 16, 16)
	b, ok := s.Buffer(bid)
	require.True(t, ok)

	releases := 0
	b.OnRelease = func() { releases++ }

	// A presented frame holds the buffer when the client destroys it.
	b.Ref()
	require.NoError(t, s.DestroyBuffer(c, bid))
	_, ok = s.Buffer(bid)
	require.True(t, ok, "entry stays while the frame reads it")

	s.ReleaseBuffer(bid)
	_, ok = s.Buffer(bid)
	assert.False(t, ok, "last reference reaps the destroyed buffer")
	assert.Zero(t, releases, "no release event for a destroyed buffer")
}
