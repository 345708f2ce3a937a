package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

func TestParseBody_EveryLiveKind(t *testing.T) {
	bodies := []Body{
		IdentityAssign{ID: testID},
		PeerRoster{Peers: []Peer{{ID: testID, Name: "Alice"}, {ID: otherID, Name: "Bob"}}},
		PeerJoined{Peer{ID: testID, Name: "Alice"}},
		PeerLeft{ID: otherID},
		GameUpdate{Data: []byte{1, 2, 3, '@'}},
		IdentityCertify{},
		ClientReady{Peer{ID: testID, Name: "Alice"}},
	}

	seen := map[Kind]bool{}
	for _, body := range bodies {
		t.Run(body.Kind().String(), func(t *testing.T) {
			payload := body.AppendPayload(nil)
			got, err := ParseBody(body.Kind(), payload)
			require.NoError(t, err)
			assert.Equal(t, body, got)
		})
		seen[body.Kind()] = true
	}

	for _, k := range LiveKinds() {
		assert.True(t, seen[k], "no body for %s", k)
	}
}

func TestPayloadLayouts(t *testing.T) {
	t.Run("client ready ends with delimiter", func(t *testing.T) {
		payload := ClientReady{Peer{ID: testID, Name: "Alice"}}.AppendPayload(nil)
		assert.Equal(t, testID+"Alice@", string(payload))
	})

	t.Run("peer joined is client ready minus delimiter", func(t *testing.T) {
		payload := PeerJoined{Peer{ID: testID, Name: "Alice"}}.AppendPayload(nil)
		assert.Equal(t, testID+"Alice", string(payload))
	})

	t.Run("roster has no trailing delimiter", func(t *testing.T) {
		payload := PeerRoster{Peers: []Peer{{ID: testID, Name: "A"}, {ID: otherID, Name: "B"}}}.AppendPayload(nil)
		assert.Equal(t, testID+"A@"+otherID+"B", string(payload))
	})

	t.Run("empty roster is empty payload", func(t *testing.T) {
		assert.Empty(t, PeerRoster{}.AppendPayload(nil))
		got, err := ParseBody(KindPeerRoster, nil)
		require.NoError(t, err)
		assert.Empty(t, got.(PeerRoster).Peers)
	})

	t.Run("identity is exactly 36 bytes", func(t *testing.T) {
		assert.Len(t, IdentityAssign{ID: testID}.AppendPayload(nil), IdentityLen)
		assert.Len(t, PeerLeft{ID: testID}.AppendPayload(nil), IdentityLen)
	})
}

func TestParseBody_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload string
	}{
		{"short identity", KindIdentityAssign, "abc"},
		{"short peer left", KindPeerLeft, testID[:10]},
		{"ready without delimiter", KindClientReady, testID + "Alice"},
		{"ready with empty name", KindClientReady, testID + "@"},
		{"ready with long name", KindClientReady, testID + strings.Repeat("n", MaxNameLen+1) + "@"},
		{"roster with short entry", KindPeerRoster, testID + "A@xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBody(tt.kind, []byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	t.Run("unknown kind", func(t *testing.T) {
		_, err := ParseBody(KindUnknown, nil)
		assert.ErrorIs(t, err, ErrUnknownKind)
		_, err = ParseBody(Kind(99), nil)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})
}

func TestMarshal(t *testing.T) {
	raw, err := Marshal(PeerLeft{ID: testID})
	require.NoError(t, err)

	h, err := DecodeHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, KindPeerLeft, h.Kind)
	assert.Equal(t, HeaderSize+IdentityLen, int(h.Length))
	assert.Equal(t, testID, string(raw[HeaderSize:]))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("Alice"))
	assert.True(t, ValidName(strings.Repeat("x", MaxNameLen)))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("a@b"))
	assert.False(t, ValidName(strings.Repeat("x", MaxNameLen+1)))
}
