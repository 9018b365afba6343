package message_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitTorrent/peer/message"
)

func TestSerializeKeepAlive(t *testing.T) {
	var m *message.Message
	assert.Equal(t, []byte{0, 0, 0, 0}, m.Serialize())
}

func TestReadKeepAlive(t *testing.T) {
	m, err := message.Read(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSerializeReadRoundTrip(t *testing.T) {
	cases := []*message.Message{
		{ID: message.Choke},
		{ID: message.Unchoke},
		{ID: message.Interested},
		{ID: message.NotInterested},
		message.FormatHave(7),
		message.FormatRequest(1, 16384, 16384),
		{ID: message.Piece, Payload: append([]byte{0, 0, 0, 1, 0, 0, 0, 0}, []byte("hello")...)},
		{ID: message.Cancel, Payload: []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 4}},
	}
	for _, want := range cases {
		got, err := message.Read(bytes.NewReader(want.Serialize()))
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Payload, got.Payload)
	}
}

func TestParseHave(t *testing.T) {
	m := message.FormatHave(42)
	idx, err := message.ParseHave(m)
	require.NoError(t, err)
	assert.Equal(t, 42, idx)

	_, err = message.ParseHave(&message.Message{ID: message.Choke})
	assert.Error(t, err)

	_, err = message.ParseHave(&message.Message{ID: message.Have, Payload: []byte{1, 2}})
	assert.Error(t, err)
}

func TestParsePiece(t *testing.T) {
	buf := make([]byte, 10)
	payload := append([]byte{0, 0, 0, 3, 0, 0, 0, 2}, []byte("abcd")...)
	m := &message.Message{ID: message.Piece, Payload: payload}

	n, err := message.ParsePiece(3, buf, m)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("abcd"), buf[2:6])
}

func TestParsePieceRejectsWrongIndexAndOverrun(t *testing.T) {
	buf := make([]byte, 4)

	wrongIndex := &message.Message{ID: message.Piece, Payload: []byte{0, 0, 0, 9, 0, 0, 0, 0, 1}}
	_, err := message.ParsePiece(0, buf, wrongIndex)
	assert.Error(t, err)

	overrun := &message.Message{ID: message.Piece, Payload: append([]byte{0, 0, 0, 0, 0, 0, 0, 0}, []byte("toolong")...)}
	_, err = message.ParsePiece(0, buf, overrun)
	assert.Error(t, err)
}
