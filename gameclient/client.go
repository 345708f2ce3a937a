// Package gameclient is an event-driven lobby client. It dials the server,
// decodes incoming frames and hands them to registered handlers, and offers
// helpers for the client-side messages of the lobby protocol.
package gameclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-lobby/frame"
)

var (
	// ErrNotConnected is returned by send operations outside the Connected state.
	ErrNotConnected = errors.New("gameclient: not connected")

	// ErrNoIdentity is returned by Ready before the server has assigned an identity.
	ErrNoIdentity = errors.New("gameclient: no identity assigned yet")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("gameclient: closed")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Connected and reading frames
	Closed                              // Closed for good
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The server address
	Timestamp time.Time       // When the change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// FrameEvent is emitted for every frame received from the server.
type FrameEvent struct {
	Body      frame.Body // The decoded payload
	Timestamp time.Time  // When the frame was received
}

// ErrorEvent is emitted when a read, decode or write fails.
type ErrorEvent struct {
	Error     error     // The error that occurred
	Timestamp time.Time // When the error occurred
}

// ConnectionStateHandler is called on a new goroutine for every state change.
type ConnectionStateHandler func(event ConnectionStateEvent)

// FrameHandler is called on the read goroutine, in arrival order. It must
// not block for long, since no further frames are read while it runs.
type FrameHandler func(event FrameEvent)

// ErrorHandler is called on a new goroutine for every error.
type ErrorHandler func(event ErrorEvent)

// Config holds the client settings.
type Config struct {
	// Address is the "host:port" of the lobby server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each frame write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout bounds the wait for each frame; 0 means no timeout.
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config for address with a 10s dial and write
// timeout and no read timeout.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client is a lobby connection. Register handlers, then call Connect. It is
// safe for concurrent use.
type Client struct {
	config Config

	mu      sync.RWMutex
	conn    net.Conn
	state   ConnectionState
	closed  bool
	id      string
	onState ConnectionStateHandler
	onFrame FrameHandler
	onError ErrorHandler

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a disconnected Client.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config) *Client {
	return &Client{config: config, state: Disconnected}
}

// OnConnectionState registers the state change handler, replacing any
// previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnFrame registers the frame handler, replacing any previous one.
func (c *Client) OnFrame(handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = handler
}

// OnError registers the error handler, replacing any previous one.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and starts reading frames.
//
// Returns:
//   - nil on success
//   - ErrClosed after Close, an error if already connected, or the dial error
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("gameclient: already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.id = ""
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Close closes the connection and waits for the read goroutine. It is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(Closed, nil)

	return err
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// ID returns the identity assigned by the server, or "" before it arrives.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Send writes body as one frame.
//
// Returns:
//   - ErrNotConnected, an encoding error or the write error
func (c *Client) Send(body frame.Body) error {
	raw, err := frame.Marshal(body)
	if err != nil {
		return err
	}

	return c.SendRaw(raw)
}

// SendRaw writes pre-encoded bytes unchanged. Useful for exercising the
// server with malformed input.
func (c *Client) SendRaw(raw []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(raw); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// Ready joins the lobby under name, announcing it to every other peer.
//
// Returns:
//   - ErrNoIdentity before the identity frame arrived, or a send error
func (c *Client) Ready(name string) error {
	id := c.ID()
	if id == "" {
		return ErrNoIdentity
	}
	if !frame.ValidName(name) {
		return fmt.Errorf("gameclient: invalid display name %q", name)
	}

	return c.Send(frame.ClientReady{Peer: frame.Peer{ID: id, Name: name}})
}

// RequestRoster asks for the list of other joined peers. The server answers
// with exactly one PeerRoster frame.
func (c *Client) RequestRoster() error {
	return c.Send(frame.IdentityCertify{})
}

// SendUpdate broadcasts opaque game state to every other joined peer.
func (c *Client) SendUpdate(data []byte) error {
	return c.Send(frame.GameUpdate{Data: data})
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	header := make([]byte, frame.HeaderSize)
	payload := make([]byte, frame.MaxPayloadSize)

	for {
		if err := c.readFrame(conn, header, payload); err != nil {
			if c.isClosed() {
				return
			}

			c.mu.Lock()
			if c.conn == conn {
				_ = conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()

			if !errors.Is(err, io.EOF) {
				c.emitError(err)
			}
			c.setState(Disconnected, err)
			return
		}
	}
}

func (c *Client) readFrame(conn net.Conn, header, payload []byte) error {
	if c.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return err
		}
	}

	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}

	h, err := frame.DecodeHeader(header)
	if err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return err
	}

	p := payload[:h.PayloadLen()]
	if _, err := io.ReadFull(conn, p); err != nil {
		return err
	}

	body, err := frame.ParseBody(h.Kind, p)
	if err != nil {
		c.emitError(err)
		return nil
	}

	if assign, ok := body.(frame.IdentityAssign); ok {
		c.mu.Lock()
		c.id = assign.ID
		c.mu.Unlock()
	}

	c.emitFrame(body)
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onState
	c.mu.Unlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitFrame(body frame.Body) {
	c.mu.RLock()
	handler := c.onFrame
	c.mu.RUnlock()

	if handler != nil {
		handler(FrameEvent{Body: body, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
