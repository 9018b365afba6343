// Package peer implements a single peer-protocol connection: handshake,
// message framing via peer/message, choke/interest state, and pipelined
// block requests for one piece at a time.
package peer

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"bitTorrent/peer/bitfield"
	"bitTorrent/peer/message"
	"bitTorrent/tracker"
)

// ErrHandshakeMismatch is the sentinel wrapped by handshake failures.
var ErrHandshakeMismatch = errors.New("peer: handshake mismatch")

// ErrPeerUnavailable is the sentinel wrapped by connect/read/timeout
// failures.
var ErrPeerUnavailable = errors.New("peer: unavailable")

// ErrHashMismatch is the sentinel wrapped when a downloaded piece fails
// verification.
var ErrHashMismatch = errors.New("peer: piece hash mismatch")

const (
	pstr = "BitTorrent protocol"

	// BlockSize is the fixed sub-piece unit used for wire-level transfer.
	BlockSize = 16384

	// DefaultPipelineDepth is the recommended number of concurrent
	// in-flight block requests per peer.
	DefaultPipelineDepth = 5

	// DialTimeout bounds the initial TCP connect.
	DialTimeout = 3 * time.Second
	// HandshakeTimeout bounds the handshake exchange.
	HandshakeTimeout = 5 * time.Second
	// IdleTimeout bounds each individual socket read while downloading.
	IdleTimeout = 30 * time.Second
	// BlockTimeout bounds the total time spent downloading one piece.
	BlockTimeout = 2 * time.Minute
)

// Handshake is the fixed 68-byte message exchanged at TCP connect.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds the local handshake for the given info-hash and
// local peer-id.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{Pstr: pstr, InfoHash: infoHash, PeerID: peerID}
}

// Serialize encodes the handshake to its 68-byte wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	cursor := 1
	buf[0] = byte(len(h.Pstr))
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += copy(buf[cursor:], make([]byte, 8))
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake parses a handshake from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lenBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	pstrLen := int(lenBuf[0])

	rest := make([]byte, pstrLen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	h := &Handshake{Pstr: string(rest[0:pstrLen])}
	cursor := pstrLen + 8
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}

// State is a peer session's position in the handshake/choke state machine.
type State int

const (
	StateConnecting State = iota
	StateHandshaked
	StateReady
	StateUnchoked
	StateClosed
)

// Session is a live connection to one peer.
type Session struct {
	Conn     net.Conn
	Peer     tracker.Peer
	PeerID   [20]byte
	Choked   bool
	Bitfield bitfield.Bitfield

	state State
}

// Dial connects to p and completes the handshake. The peer is assumed to
// hold every piece until a bitfield message says otherwise (BEP 3 allows
// the bitfield message to be omitted entirely, so Dial does not block
// waiting for one).
func Dial(ctx context.Context, p tracker.Peer, localID, infoHash [20]byte, pieceCount int) (*Session, error) {
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.String())
	if err != nil {
		return nil, errors.Wrapf(ErrPeerUnavailable, "dial %s: %s", p, err)
	}

	s := &Session{Conn: conn, Peer: p, Choked: true, state: StateConnecting}

	if err := s.handshake(infoHash, localID); err != nil {
		conn.Close()
		return nil, err
	}
	s.state = StateHandshaked

	// A peer's bitfield message is optional (BEP 3): rather than block
	// waiting to see if one arrives, assume the peer has every piece and
	// let a later "bitfield" message (handled in applyNextMessage, which
	// replaces the whole bitfield) narrow that down; "have" only sets bits.
	s.Bitfield = allOnes(pieceCount)
	s.state = StateReady

	return s, nil
}

func (s *Session) handshake(infoHash, localID [20]byte) error {
	s.Conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer s.Conn.SetDeadline(time.Time{})

	req := NewHandshake(infoHash, localID)
	if _, err := s.Conn.Write(req.Serialize()); err != nil {
		return errors.Wrap(ErrPeerUnavailable, err.Error())
	}

	resp, err := ReadHandshake(s.Conn)
	if err != nil {
		return errors.Wrap(ErrPeerUnavailable, err.Error())
	}
	if resp.Pstr != pstr {
		return errors.Wrapf(ErrHandshakeMismatch, "unexpected protocol string %q", resp.Pstr)
	}
	if !bytes.Equal(resp.InfoHash[:], infoHash[:]) {
		return errors.Wrapf(ErrHandshakeMismatch, "info-hash mismatch: got %x, want %x", resp.InfoHash, infoHash)
	}

	s.PeerID = resp.PeerID
	return nil
}

func allOnes(pieceCount int) bitfield.Bitfield {
	bf := bitfield.New(pieceCount)
	for i := 0; i < pieceCount; i++ {
		bf.Set(i)
	}
	return bf
}

// Read parses the next message, blocking until one arrives or the
// connection's deadline (set by the caller) elapses.
func (s *Session) Read() (*message.Message, error) {
	m, err := message.Read(s.Conn)
	if err != nil {
		return nil, errors.Wrap(ErrPeerUnavailable, err.Error())
	}
	return m, nil
}

func (s *Session) send(m *message.Message) error {
	if _, err := s.Conn.Write(m.Serialize()); err != nil {
		return errors.Wrap(ErrPeerUnavailable, err.Error())
	}
	return nil
}

func (s *Session) SendInterested() error    { return s.send(&message.Message{ID: message.Interested}) }
func (s *Session) SendNotInterested() error {
	return s.send(&message.Message{ID: message.NotInterested})
}
func (s *Session) SendUnchoke() error { return s.send(&message.Message{ID: message.Unchoke}) }
func (s *Session) SendChoke() error   { return s.send(&message.Message{ID: message.Choke}) }
func (s *Session) SendHave(index int) error { return s.send(message.FormatHave(index)) }
func (s *Session) SendRequest(index, begin, length int) error {
	return s.send(message.FormatRequest(index, begin, length))
}

// Close terminates the underlying connection.
func (s *Session) Close() error {
	s.state = StateClosed
	return s.Conn.Close()
}
