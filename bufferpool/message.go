package bufferpool

import (
	"fmt"

	"github.com/cyberinferno/go-lobby/frame"
)

// List names the queue a Message currently belongs to.
type List uint8

const (
	ListNone  List = iota // assigned to a pipeline stage, on no queue
	ListFree              // empty, available for acquisition
	ListReady             // complete inbound frame awaiting the dispatcher
	ListWork              // outbound frame awaiting egress
)

func (l List) String() string {
	switch l {
	case ListNone:
		return "assigned"
	case ListFree:
		return "free"
	case ListReady:
		return "ready"
	case ListWork:
		return "work"
	default:
		return fmt.Sprintf("list(%d)", uint8(l))
	}
}

const noSlot int32 = -1

// Message is one slot of the pool. Its storage holds a complete frame: the
// header occupies the first frame.HeaderSize bytes and the payload follows.
type Message struct {
	Header frame.Header

	// Conn is the socket of the connection the frame came from (or, for
	// synthesized frames, the connection it concerns).
	Conn int

	// Serial identifies the owning session; it guards against a socket
	// number being reused by a newer connection.
	Serial uint32

	// Local marks frames synthesized by the server rather than read off a socket.
	Local bool

	buf        [frame.MaxFrameSize]byte
	payloadLen int

	index      int32
	prev, next int32
	list       List
}

// Index returns the slot number of m inside its pool.
func (m *Message) Index() int {
	return int(m.index)
}

// List returns the queue m is linked into.
func (m *Message) List() List {
	return m.list
}

// Payload returns the payload bytes currently held by m.
func (m *Message) Payload() []byte {
	return m.buf[frame.HeaderSize : frame.HeaderSize+m.payloadLen]
}

// SetPayload copies p into m.
//
// Returns:
//   - frame.ErrFrameTooLarge if p exceeds frame.MaxPayloadSize
func (m *Message) SetPayload(p []byte) error {
	if len(p) > frame.MaxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes", frame.ErrFrameTooLarge, len(p))
	}

	m.payloadLen = copy(m.buf[frame.HeaderSize:], p)
	return nil
}

// PayloadBuffer resizes the payload to n bytes and returns it for in-place
// filling. n must not exceed frame.MaxPayloadSize.
func (m *Message) PayloadBuffer(n int) []byte {
	m.payloadLen = n
	return m.Payload()
}


// Seal stamps a header of the given kind in front of the payload.
func (m *Message) Seal(kind frame.Kind) {
	m.Header = frame.Header{Kind: kind, Length: uint16(frame.HeaderSize + m.payloadLen)}
	frame.PutHeader(m.buf[:frame.HeaderSize], m.Header)
}

// Frame returns the sealed wire bytes of m.
func (m *Message) Frame() []byte {
	return m.buf[:frame.HeaderSize+m.payloadLen]
}

// reset clears every field except the slot index.
func (m *Message) reset() {
	idx := m.index
	*m = Message{}
	m.index = idx
	m.prev, m.next = noSlot, noSlot
	m.Conn = -1
}
