package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func TestEncode_DecodeHeader_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 36, 37, 255, MaxPayloadSize}

	for _, kind := range LiveKinds() {
		for _, size := range sizes {
			payload := bytes.Repeat([]byte{byte(size)}, size)
			buf := make([]byte, MaxFrameSize)

			n, err := Encode(buf, kind, payload)
			require.NoError(t, err)
			assert.Equal(t, HeaderSize+size, n)

			h, err := DecodeHeader(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, kind, h.Kind)
			assert.Equal(t, uint16(n), h.Length)
			assert.Equal(t, size, h.PayloadLen())
			require.NoError(t, h.Validate())
			assert.Equal(t, payload, buf[HeaderSize:n])
		}
	}
}

func TestEncode_Layout(t *testing.T) {
	buf := make([]byte, 16)
	n, err := Encode(buf, KindPeerLeft, []byte("ab"))
	require.NoError(t, err)

	assert.Equal(t, 10, n)
	assert.Equal(t, []byte{5, 0, 0, 0, 10, 0, 0, 0, 'a', 'b'}, buf[:n])
}

func TestEncode_InPlace(t *testing.T) {
	buf := make([]byte, MaxFrameSize)
	copy(buf[HeaderSize:], "payload")

	n, err := Encode(buf, KindGameUpdate, buf[HeaderSize:HeaderSize+7])
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[HeaderSize:n]))
}

func TestEncode_TooLarge(t *testing.T) {
	t.Run("payload over frame limit", func(t *testing.T) {
		_, err := Encode(make([]byte, 1024), KindGameUpdate, make([]byte, MaxPayloadSize+1))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("destination too small", func(t *testing.T) {
		_, err := Encode(make([]byte, HeaderSize+1), KindGameUpdate, []byte("xy"))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("append over frame limit", func(t *testing.T) {
		_, err := Append(nil, KindGameUpdate, make([]byte, MaxPayloadSize+1))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestDecodeHeader_ShortBuffer(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		_, err := DecodeHeader(make([]byte, n))
		assert.ErrorIs(t, err, ErrShortBuffer, "len %d", n)
	}
}

func TestHeader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		length  uint16
		wantErr bool
	}{
		{"zero", 0, true},
		{"below header", HeaderSize - 1, true},
		{"header only", HeaderSize, false},
		{"max frame", MaxFrameSize, false},
		{"over max", MaxFrameSize + 1, true},
		{"max uint16", 0xffff, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Header{Kind: KindGameUpdate, Length: tt.length}.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadLength)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKind(t *testing.T) {
	t.Run("live set", func(t *testing.T) {
		assert.False(t, KindUnknown.Live())
		assert.False(t, Kind(0).Live())
		assert.False(t, Kind(9).Live())
		for _, k := range LiveKinds() {
			assert.True(t, k.Live(), k.String())
		}
	})

	t.Run("broadcast kinds", func(t *testing.T) {
		assert.True(t, KindGameUpdate.Broadcast())
		assert.True(t, KindPeerJoined.Broadcast())
		assert.True(t, KindPeerLeft.Broadcast())
		assert.False(t, KindPeerRoster.Broadcast())
		assert.False(t, KindIdentityAssign.Broadcast())
	})

	t.Run("names", func(t *testing.T) {
		assert.Equal(t, "client_ready", KindClientReady.String())
		assert.Equal(t, "invalid", Kind(42).String())
	})
}
