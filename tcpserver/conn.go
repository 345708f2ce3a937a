//go:build linux

package tcpserver

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ConnOptions tunes an accepted socket.
type ConnOptions struct {
	NoDelay bool

	KeepAlive         bool
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int

	// LingerZero makes close(2) reset the connection instead of lingering
	// in TIME_WAIT.
	LingerZero bool
}

// DefaultConnOptions returns the tuning applied when none is configured.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		NoDelay:           true,
		KeepAlive:         true,
		KeepAliveIdle:     60 * time.Second,
		KeepAliveInterval: 5 * time.Second,
		KeepAliveCount:    3,
		LingerZero:        true,
	}
}

// ConfigureConn applies opts to fd.
//
// Returns:
//   - The first setsockopt failure, naming the option
func ConfigureConn(fd int, opts ConnOptions) error {
	if opts.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("tcpserver: TCP_NODELAY: %w", err)
		}
	}

	if opts.KeepAlive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return fmt.Errorf("tcpserver: SO_KEEPALIVE: %w", err)
		}

		tuning := []struct {
			name  string
			opt   int
			value int
		}{
			{"TCP_KEEPIDLE", unix.TCP_KEEPIDLE, int(opts.KeepAliveIdle / time.Second)},
			{"TCP_KEEPINTVL", unix.TCP_KEEPINTVL, int(opts.KeepAliveInterval / time.Second)},
			{"TCP_KEEPCNT", unix.TCP_KEEPCNT, opts.KeepAliveCount},
		}
		for _, o := range tuning {
			if o.value <= 0 {
				continue
			}
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, o.opt, o.value); err != nil {
				return fmt.Errorf("tcpserver: %s: %w", o.name, err)
			}
		}
	}

	if opts.LingerZero {
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0}); err != nil {
			return fmt.Errorf("tcpserver: SO_LINGER: %w", err)
		}
	}

	return nil
}

// State is the kernel TCP state of a socket (TCP_ESTABLISHED and friends).
type State uint8

const (
	StateEstablished State = 1
	StateSynSent     State = 2
	StateSynRecv     State = 3
	StateFinWait1    State = 4
	StateFinWait2    State = 5
	StateTimeWait    State = 6
	StateClose       State = 7
	StateCloseWait   State = 8
	StateLastAck     State = 9
	StateListen      State = 10
	StateClosing     State = 11
)

// PeerGone reports whether the remote end has closed or the connection is
// already torn down.
func (s State) PeerGone() bool {
	return s == StateClose || s == StateCloseWait
}

func (s State) String() string {
	names := [...]string{"", "ESTABLISHED", "SYN_SENT", "SYN_RECV", "FIN_WAIT1", "FIN_WAIT2",
		"TIME_WAIT", "CLOSE", "CLOSE_WAIT", "LAST_ACK", "LISTEN", "CLOSING"}
	if int(s) > 0 && int(s) < len(names) {
		return names[s]
	}

	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// ConnState queries the TCP state of fd.
func ConnState(fd int) (State, error) {
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return 0, fmt.Errorf("tcpserver: TCP_INFO: %w", err)
	}

	return State(info.State), nil
}
