//go:build linux

// Package tcpserver creates the non-blocking listening socket and tunes
// accepted connections. It works on raw file descriptors so sockets can be
// driven by an epoll readiness set instead of per-connection goroutines.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// Listener is a bound, listening, non-blocking TCP socket.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen creates a listening socket on bindAddress:port. Port 0 picks an
// ephemeral port; Addr reports the one chosen.
//
// Parameters:
//   - bindAddress: IPv4 or IPv6 literal; empty means all IPv4 interfaces
//   - port: TCP port, 0..65535
//   - backlog: Accept queue length passed to listen(2)
//
// Returns:
//   - The Listener, or an error naming the failing step
func Listen(bindAddress string, port int, backlog int) (*Listener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("tcpserver: port %d out of range", port)
	}

	if bindAddress == "" {
		bindAddress = "0.0.0.0"
	}

	ip, err := netip.ParseAddr(bindAddress)
	if err != nil {
		return nil, fmt.Errorf("tcpserver: bind address: %w", err)
	}

	var (
		family int
		sa     unix.Sockaddr
	)
	if ip = ip.Unmap(); ip.Is4() {
		family = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: port, Addr: ip.As4()}
	} else {
		family = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port, Addr: ip.As16()}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("tcpserver: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tcpserver: SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tcpserver: bind %s: %w", net.JoinHostPort(ip.String(), strconv.Itoa(port)), err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tcpserver: listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tcpserver: getsockname: %w", err)
	}

	return &Listener{fd: fd, addr: addrPort(bound)}, nil
}

// Fd returns the listening socket.
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound address, with the actual port.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

// Accept takes one pending connection. The returned socket is non-blocking
// and close-on-exec.
//
// Returns:
//   - The accepted socket and the peer address
//   - An error satisfying IsTemporary when nothing is pending
func (l *Listener) Accept() (int, netip.AddrPort, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return -1, netip.AddrPort{}, err
		}

		return fd, addrPort(sa), nil
	}
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// IsTemporary reports whether err means "nothing to do right now": the
// socket would block, or a pending connection was aborted before it could
// be accepted.
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.ECONNABORTED)
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	default:
		return netip.AddrPort{}
	}
}
