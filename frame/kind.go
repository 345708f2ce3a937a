package frame

// Kind identifies the message carried by a frame.
type Kind uint32

const (
	KindUnknown         Kind = iota + 1 // initialization sentinel, never sent
	KindIdentityAssign                  // server -> client: issued identity
	KindPeerRoster                      // server -> client: other joined peers
	KindPeerJoined                      // server -> clients: a peer joined
	KindPeerLeft                        // server -> clients: a peer left
	KindGameUpdate                      // client <-> clients: opaque game state
	KindIdentityCertify                 // client -> server: roster request
	KindClientReady                     // client -> server: identity + display name
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindIdentityAssign:
		return "identity_assign"
	case KindPeerRoster:
		return "peer_roster"
	case KindPeerJoined:
		return "peer_joined"
	case KindPeerLeft:
		return "peer_left"
	case KindGameUpdate:
		return "game_update"
	case KindIdentityCertify:
		return "identity_certify"
	case KindClientReady:
		return "client_ready"
	default:
		return "invalid"
	}
}

// Live reports whether k is one of the seven kinds that may appear on the wire.
func (k Kind) Live() bool {
	return k >= KindIdentityAssign && k <= KindClientReady
}

// Broadcast reports whether frames of kind k fan out to every other joined
// peer rather than back to their originating connection.
func (k Kind) Broadcast() bool {
	switch k {
	case KindGameUpdate, KindPeerJoined, KindPeerLeft:
		return true
	default:
		return false
	}
}

// ServerOnly reports whether k is only ever produced by the server. Such
// frames arriving from a client are dropped.
func (k Kind) ServerOnly() bool {
	switch k {
	case KindIdentityAssign, KindPeerRoster, KindPeerJoined, KindPeerLeft:
		return true
	default:
		return false
	}
}

// LiveKinds lists every kind that may appear on the wire.
func LiveKinds() []Kind {
	return []Kind{
		KindIdentityAssign,
		KindPeerRoster,
		KindPeerJoined,
		KindPeerLeft,
		KindGameUpdate,
		KindIdentityCertify,
		KindClientReady,
	}
}
