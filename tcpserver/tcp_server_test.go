//go:build linux

package tcpserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func listen(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1", 0, 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// acceptWithin polls the non-blocking listener until a connection arrives.
func acceptWithin(t *testing.T, l *Listener, d time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		fd, _, err := l.Accept()
		if err == nil {
			t.Cleanup(func() { _ = unix.Close(fd) })
			return fd
		}
		require.True(t, IsTemporary(err), "unexpected accept error: %v", err)
		time.Sleep(time.Millisecond)
	}

	t.Fatal("no connection accepted")
	return -1
}

func TestListen(t *testing.T) {
	t.Run("ephemeral port is reported", func(t *testing.T) {
		l := listen(t)
		assert.NotZero(t, l.Addr().Port())
		assert.Equal(t, "127.0.0.1", l.Addr().Addr().String())
		assert.Positive(t, l.Fd())
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := Listen("not-an-ip", 0, 1)
		assert.Error(t, err)
		_, err = Listen("127.0.0.1", 70000, 1)
		assert.Error(t, err)
	})

	t.Run("port in use", func(t *testing.T) {
		l := listen(t)
		_, err := Listen("127.0.0.1", int(l.Addr().Port()), 1)
		assert.Error(t, err)
	})
}

func TestListener_AcceptNonBlocking(t *testing.T) {
	l := listen(t)

	_, _, err := l.Accept()
	require.Error(t, err)
	assert.True(t, IsTemporary(err))

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fd := acceptWithin(t, l, 2*time.Second)
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestConfigureConn(t *testing.T) {
	l := listen(t)
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	fd := acceptWithin(t, l, 2*time.Second)

	require.NoError(t, ConfigureConn(fd, DefaultConnOptions()))

	nodelay, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.Equal(t, 1, nodelay)

	idle, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE)
	require.NoError(t, err)
	assert.Equal(t, 60, idle)

	count, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	t.Run("fails on a closed descriptor", func(t *testing.T) {
		assert.Error(t, ConfigureConn(-1, DefaultConnOptions()))
	})
}

func TestConnState(t *testing.T) {
	l := listen(t)
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	fd := acceptWithin(t, l, 2*time.Second)

	state, err := ConnState(fd)
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, state)
	assert.False(t, state.PeerGone())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		s, err := ConnState(fd)
		return err == nil && s.PeerGone()
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "CLOSE_WAIT", StateCloseWait.String())
	assert.Equal(t, "STATE(99)", State(99).String())
}
