package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cyberinferno/go-lobby/utils"
)

var (
	// ErrMalformed is returned when a payload does not match its kind's layout.
	ErrMalformed = errors.New("frame: malformed payload")

	// ErrUnknownKind is returned for kinds outside the live set.
	ErrUnknownKind = errors.New("frame: unknown kind")
)

// Body is the decoded payload of a live frame. The concrete types below are
// the only implementations; a type switch over Body covers every live kind.
type Body interface {
	// Kind returns the header kind this body is carried under.
	Kind() Kind

	// AppendPayload appends the wire encoding of the body to dst.
	AppendPayload(dst []byte) []byte

	body()
}

// Peer is one joined player as listed in a roster or join notice.
type Peer struct {
	ID   string
	Name string
}

// IdentityAssign carries the identity issued to a freshly accepted connection.
type IdentityAssign struct {
	ID string
}

// PeerRoster lists every other joined peer.
type PeerRoster struct {
	Peers []Peer
}

// PeerJoined announces a peer that completed onboarding.
type PeerJoined struct {
	Peer
}

// PeerLeft announces a departed peer.
type PeerLeft struct {
	ID string
}

// GameUpdate is opaque application state relayed unchanged.
type GameUpdate struct {
	Data []byte
}

// IdentityCertify is a client's roster request. Its payload is ignored.
type IdentityCertify struct{}

// ClientReady is sent by a client once it has chosen a display name.
type ClientReady struct {
	Peer
}

func (IdentityAssign) Kind() Kind  { return KindIdentityAssign }
func (PeerRoster) Kind() Kind      { return KindPeerRoster }
func (PeerJoined) Kind() Kind      { return KindPeerJoined }
func (PeerLeft) Kind() Kind        { return KindPeerLeft }
func (GameUpdate) Kind() Kind      { return KindGameUpdate }
func (IdentityCertify) Kind() Kind { return KindIdentityCertify }
func (ClientReady) Kind() Kind     { return KindClientReady }

func (IdentityAssign) body()  {}
func (PeerRoster) body()      {}
func (PeerJoined) body()      {}
func (PeerLeft) body()        {}
func (GameUpdate) body()      {}
func (IdentityCertify) body() {}
func (ClientReady) body()     {}

func (b IdentityAssign) AppendPayload(dst []byte) []byte {
	return utils.AppendFixedString(dst, b.ID, IdentityLen)
}

// AppendPayload writes (id)(name)@ for every peer, omitting the delimiter
// after the last entry.
func (b PeerRoster) AppendPayload(dst []byte) []byte {
	for i, p := range b.Peers {
		if i > 0 {
			dst = append(dst, Delimiter)
		}
		dst = p.appendEntry(dst)
	}

	return dst
}

func (b PeerJoined) AppendPayload(dst []byte) []byte {
	return b.appendEntry(dst)
}

func (b PeerLeft) AppendPayload(dst []byte) []byte {
	return utils.AppendFixedString(dst, b.ID, IdentityLen)
}

func (b GameUpdate) AppendPayload(dst []byte) []byte {
	return append(dst, b.Data...)
}

func (IdentityCertify) AppendPayload(dst []byte) []byte {
	return dst
}

func (b ClientReady) AppendPayload(dst []byte) []byte {
	return append(b.appendEntry(dst), Delimiter)
}

func (p Peer) appendEntry(dst []byte) []byte {
	return append(utils.AppendFixedString(dst, p.ID, IdentityLen), p.Name...)
}

// EntryLen returns the encoded size of p inside a roster, excluding delimiters.
func (p Peer) EntryLen() int {
	return IdentityLen + len(p.Name)
}

// ValidName reports whether name is acceptable as a display name.
func ValidName(name string) bool {
	return len(name) > 0 && len(name) <= MaxNameLen && bytes.IndexByte([]byte(name), Delimiter) < 0
}

// ParseBody decodes payload according to kind.
//
// Parameters:
//   - kind: The header kind
//   - payload: The payload bytes following the header; not retained except
//     by GameUpdate, which copies it
//
// Returns:
//   - The decoded Body
//   - ErrUnknownKind for kinds outside the live set, or ErrMalformed
func ParseBody(kind Kind, payload []byte) (Body, error) {
	switch kind {
	case KindIdentityAssign:
		id, err := parseIdentity(payload)
		if err != nil {
			return nil, err
		}
		return IdentityAssign{ID: id}, nil
	case KindPeerRoster:
		return parseRoster(payload)
	case KindPeerJoined:
		id, err := parseIdentity(payload)
		if err != nil {
			return nil, err
		}
		return PeerJoined{Peer{ID: id, Name: string(payload[IdentityLen:])}}, nil
	case KindPeerLeft:
		id, err := parseIdentity(payload)
		if err != nil {
			return nil, err
		}
		return PeerLeft{ID: id}, nil
	case KindGameUpdate:
		data := make([]byte, len(payload))
		copy(data, payload)
		return GameUpdate{Data: data}, nil
	case KindIdentityCertify:
		return IdentityCertify{}, nil
	case KindClientReady:
		return parseClientReady(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint32(kind))
	}
}

func parseIdentity(payload []byte) (string, error) {
	if len(payload) < IdentityLen {
		return "", fmt.Errorf("%w: identity needs %d bytes, have %d", ErrMalformed, IdentityLen, len(payload))
	}

	return string(payload[:IdentityLen]), nil
}

func parseClientReady(payload []byte) (Body, error) {
	id, err := parseIdentity(payload)
	if err != nil {
		return nil, err
	}

	rest := payload[IdentityLen:]
	end := bytes.IndexByte(rest, Delimiter)
	if end < 0 {
		return nil, fmt.Errorf("%w: display name is not terminated", ErrMalformed)
	}

	name := string(rest[:end])
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: display name must be 1..%d bytes", ErrMalformed, MaxNameLen)
	}

	return ClientReady{Peer{ID: id, Name: name}}, nil
}

func parseRoster(payload []byte) (Body, error) {
	roster := PeerRoster{}
	if len(payload) == 0 {
		return roster, nil
	}

	for _, entry := range bytes.Split(payload, []byte{Delimiter}) {
		id, err := parseIdentity(entry)
		if err != nil {
			return nil, err
		}
		roster.Peers = append(roster.Peers, Peer{ID: id, Name: string(entry[IdentityLen:])})
	}

	return roster, nil
}

// Marshal encodes body as a complete frame.
func Marshal(body Body) ([]byte, error) {
	payload := body.AppendPayload(make([]byte, 0, MaxPayloadSize))
	return Append(make([]byte, 0, HeaderSize+len(payload)), body.Kind(), payload)
}
