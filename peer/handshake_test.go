package peer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitTorrent/peer"
)

func TestHandshakeSerializeIs68Bytes(t *testing.T) {
	h := peer.NewHandshake([20]byte{1}, [20]byte{2})
	buf := h.Serialize()
	require.Len(t, buf, 68)
	assert.Equal(t, byte(19), buf[0])
	assert.Equal(t, "BitTorrent protocol", string(buf[1:20]))
	assert.Equal(t, make([]byte, 8), buf[20:28])
}

func TestHandshakeRoundTrip(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	peerID := [20]byte{4, 5, 6}
	h := peer.NewHandshake(infoHash, peerID)

	got, err := peer.ReadHandshake(bytes.NewReader(h.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, "BitTorrent protocol", got.Pstr)
	assert.Equal(t, infoHash, got.InfoHash)
	assert.Equal(t, peerID, got.PeerID)
}
