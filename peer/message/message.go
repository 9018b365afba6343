// Package message implements the length-prefixed peer wire message format:
// the 4-byte big-endian length prefix, the message id, and id-specific
// payload parsing/formatting.
package message

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrProtocolViolation is the sentinel wrapped by framing/payload errors
// (the ProtocolViolation error kind).
var ErrProtocolViolation = errors.New("message: protocol violation")

// ID identifies a peer wire message.
type ID uint8

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Message is a parsed peer wire message. A nil *Message represents a
// keep-alive (zero-length prefix, no id, no payload).
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize encodes m as its length-prefixed wire form. A nil receiver
// serializes to the 4-byte zero-length keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Read parses one message from r. It returns (nil, nil) on a keep-alive.
func Read(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	m := &Message{ID: ID(payload[0])}
	if length > 1 {
		m.Payload = payload[1:]
	}
	return m, nil
}

// FormatHave builds a "have" message announcing possession of piece index.
func FormatHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

// FormatRequest builds a "request" message for a block.
func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

// ParseHave extracts the piece index from a "have" message.
func ParseHave(m *Message) (int, error) {
	if m.ID != Have {
		return 0, errors.Wrapf(ErrProtocolViolation, "expected have, got %s", m.ID)
	}
	if len(m.Payload) != 4 {
		return 0, errors.Wrapf(ErrProtocolViolation, "have payload length %d, want 4", len(m.Payload))
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// ParsePiece copies a "piece" message's block data into buf at its offset,
// validating that it belongs to the expected piece index and fits inside
// buf. It returns the number of bytes copied.
func ParsePiece(index int, buf []byte, m *Message) (int, error) {
	if m.ID != Piece {
		return 0, errors.Wrapf(ErrProtocolViolation, "expected piece, got %s", m.ID)
	}
	if len(m.Payload) < 8 {
		return 0, errors.Wrapf(ErrProtocolViolation, "piece payload length %d too short", len(m.Payload))
	}
	gotIndex := int(binary.BigEndian.Uint32(m.Payload[0:4]))
	if gotIndex != index {
		return 0, errors.Wrapf(ErrProtocolViolation, "piece index %d, want %d", gotIndex, index)
	}
	begin := int(binary.BigEndian.Uint32(m.Payload[4:8]))
	if begin < 0 || begin >= len(buf) {
		return 0, errors.Wrapf(ErrProtocolViolation, "piece begin %d out of range [0,%d)", begin, len(buf))
	}
	data := m.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, errors.Wrapf(ErrProtocolViolation, "piece data length %d at begin %d overruns buffer of %d", len(data), begin, len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}
