package wire_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/wire"
)

type testObject struct {
	id uint32
}

func (o *testObject) ID() uint32        { return o.id }
func (o *testObject) SetID(id uint32)   { o.id = id }
func (o *testObject) Interface() string { return "test_object" }
func (o *testObject) Delete()           {}

func (o *testObject) Dispatch(msg *wire.MessageBuffer) error { return nil }

// pair opens a connected pair of Conns over a Unix socketpair.
func pair(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sock")
	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	defer lis.Close()

	dialed, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	accepted, err := lis.AcceptUnix()
	require.NoError(t, err)

	a, b := wire.NewConn(dialed), wire.NewConn(accepted)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestMessageRoundtrip(t *testing.T) {
	a, b := pair(t)
	sender := &testObject{id: 3}

	mb := wire.NewMessage(sender, 7)
	mb.WriteInt(-42)
	mb.WriteUint(0xDEADBEEF)
	mb.WriteString("hello")
	mb.WriteArray([]byte{1, 2, 3})
	mb.WriteFixed(wire.FixedInt(5))
	mb.WriteObject(nil)
	require.NoError(t, a.WriteMessage(mb))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), msg.Sender())
	assert.Equal(t, uint16(7), msg.Op())

	assert.Equal(t, int32(-42), msg.ReadInt())
	assert.Equal(t, uint32(0xDEADBEEF), msg.ReadUint())
	assert.Equal(t, "hello", msg.ReadString())
	assert.Equal(t, []byte{1, 2, 3}, msg.ReadArray())
	assert.Equal(t, 5, msg.ReadFixed().Int())
	assert.Zero(t, msg.ReadUint(), "nil object encodes as ID 0")
	require.NoError(t, msg.Err())
}

func TestMessageSizeIsPadded(t *testing.T) {
	a, b := pair(t)

	// "hi" plus NUL is 3 bytes, padded to 4 on the wire.
	mb := wire.NewMessage(&testObject{id: 1}, 0)
	mb.WriteString("hi")
	require.NoError(t, a.WriteMessage(mb))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint16(8+4+4), msg.Size())
	assert.Equal(t, "hi", msg.ReadString())
	require.NoError(t, msg.Err())
}

func TestReadPastEndSticks(t *testing.T) {
	a, b := pair(t)

	mb := wire.NewMessage(&testObject{id: 1}, 0)
	mb.WriteUint(1)
	require.NoError(t, a.WriteMessage(mb))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	msg.ReadUint()
	msg.ReadUint() // past the end
	assert.Error(t, msg.Err())
	assert.Zero(t, msg.ReadUint(), "reads after an error are no-ops")
}

func TestNewIDRoundtrip(t *testing.T) {
	a, b := pair(t)

	mb := wire.NewMessage(&testObject{id: 1}, 0)
	mb.WriteNewID(wire.NewID{Interface: "wl_output", Version: 3, ID: 42})
	require.NoError(t, a.WriteMessage(mb))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.NewID{Interface: "wl_output", Version: 3, ID: 42}, msg.ReadNewID())
	require.NoError(t, msg.Err())
}

func TestFilePassing(t *testing.T) {
	a, b := pair(t)

	f, err := os.CreateTemp(t.TempDir(), "fd")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("carried along")
	require.NoError(t, err)

	mb := wire.NewMessage(&testObject{id: 1}, 0)
	mb.WriteUint(99)
	mb.WriteFile(f)
	require.NoError(t, a.WriteMessage(mb))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(99), msg.ReadUint())

	got := msg.ReadFile()
	require.NoError(t, msg.Err())
	require.NotNil(t, got)
	defer got.Close()

	buf := make([]byte, 32)
	n, err := got.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "carried along", string(buf[:n]))
}

func TestReadFileWithoutFDErrors(t *testing.T) {
	a, b := pair(t)

	mb := wire.NewMessage(&testObject{id: 1}, 0)
	mb.WriteUint(1)
	require.NoError(t, a.WriteMessage(mb))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	msg.ReadUint()
	assert.Nil(t, msg.ReadFile())
	assert.Error(t, msg.Err())
}

func TestFixedConversions(t *testing.T) {
	assert.Equal(t, 7, wire.FixedInt(7).Int())
	assert.Equal(t, -3, wire.FixedInt(-3).Int())
	assert.InDelta(t, 2.5, wire.FixedFloat(2.5).Float(), 1.0/256)
	assert.Equal(t, "2", wire.FixedInt(2).String())
}

func TestListenPicksFreeSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	lis, path, err := wire.Listen("")
	require.NoError(t, err)
	defer lis.Close()
	assert.Equal(t, "wayland-0", filepath.Base(path))

	lis2, path2, err := wire.Listen("")
	require.NoError(t, err)
	defer lis2.Close()
	assert.Equal(t, "wayland-1", filepath.Base(path2))
}

func TestSocketPathHonorsEnv(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Setenv("WAYLAND_DISPLAY", "wayland-5")
	assert.Equal(t, "/run/user/1000/wayland-5", wire.SocketPath())

	t.Setenv("WAYLAND_DISPLAY", "/tmp/abs-sock")
	assert.Equal(t, "/tmp/abs-sock", wire.SocketPath())
}
