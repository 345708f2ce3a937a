// Package frame implements the lobby wire format: a fixed 8-byte header
// followed by a bounded payload.
//
// Header layout (little-endian):
//
//	bytes 0..3  kind          uint32
//	bytes 4..5  total length  uint16 (header + payload)
//	bytes 6..7  reserved      zero
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the number of bytes occupied by a Header on the wire.
	HeaderSize = 8

	// MaxFrameSize is the largest frame (header + payload) a peer may send.
	MaxFrameSize = 512

	// MaxPayloadSize is the largest payload that fits in a single frame.
	MaxPayloadSize = MaxFrameSize - HeaderSize

	// IdentityLen is the length of an identity token (a canonical UUID string).
	IdentityLen = 36

	// MaxNameLen is the longest display name accepted from a client.
	MaxNameLen = 32

	// Delimiter terminates display names and separates roster entries.
	Delimiter byte = '@'
)

var (
	// ErrShortBuffer is returned when fewer than HeaderSize bytes are available.
	ErrShortBuffer = errors.New("frame: short buffer")

	// ErrBadLength is returned when a header declares a total length outside
	// [HeaderSize, MaxFrameSize].
	ErrBadLength = errors.New("frame: declared length out of bounds")

	// ErrFrameTooLarge is returned when an encoded frame would not fit the
	// destination buffer or MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame: frame too large")
)

// Header is the fixed-size prefix written before every payload.
type Header struct {
	Kind   Kind
	Length uint16
}

// PayloadLen returns the number of payload bytes that follow the header.
func (h Header) PayloadLen() int {
	if int(h.Length) < HeaderSize {
		return 0
	}

	return int(h.Length) - HeaderSize
}

// Validate reports whether the declared length can describe a legal frame.
// A peer sending a header that fails validation is violating the protocol.
func (h Header) Validate() error {
	if h.Length < HeaderSize || h.Length > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrBadLength, h.Length)
	}

	return nil
}

// PutHeader writes h into the first HeaderSize bytes of dst.
// dst must be at least HeaderSize long.
func PutHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.Kind))
	binary.LittleEndian.PutUint16(dst[4:6], h.Length)
	dst[6] = 0
	dst[7] = 0
}

// DecodeHeader parses the header at the start of b. The caller advances past
// HeaderSize bytes itself; DecodeHeader neither copies nor allocates.
//
// Parameters:
//   - b: Buffered bytes, starting at a frame boundary
//
// Returns:
//   - The parsed Header
//   - ErrShortBuffer if len(b) < HeaderSize
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortBuffer
	}

	return Header{
		Kind:   Kind(binary.LittleEndian.Uint32(b[0:4])),
		Length: binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

// Encode writes a complete frame (header then payload) into dst and returns
// the number of bytes written. dst and payload may overlap only if payload
// already starts at dst[HeaderSize:].
//
// Parameters:
//   - dst: Destination buffer; must hold HeaderSize+len(payload) bytes
//   - kind: Message kind written into the header
//   - payload: Payload bytes, at most MaxPayloadSize
//
// Returns:
//   - The total frame length
//   - ErrFrameTooLarge if the frame does not fit dst or MaxFrameSize
func Encode(dst []byte, kind Kind, payload []byte) (int, error) {
	total := HeaderSize + len(payload)
	if total > MaxFrameSize || total > len(dst) {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	copy(dst[HeaderSize:total], payload)
	PutHeader(dst, Header{Kind: kind, Length: uint16(total)})

	return total, nil
}

// Append encodes a frame onto the end of dst and returns the extended slice.
func Append(dst []byte, kind Kind, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxFrameSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	var hdr [HeaderSize]byte
	PutHeader(hdr[:], Header{Kind: kind, Length: uint16(total)})
	dst = append(dst, hdr[:]...)

	return append(dst, payload...), nil
}
