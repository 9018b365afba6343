package peer

import (
	"context"
	"crypto/sha1"
	"time"

	"github.com/pkg/errors"

	"bitTorrent/peer/bitfield"
	"bitTorrent/peer/message"
)

type progress struct {
	index      int
	buffer     []byte
	downloaded int
	requested  int
	backlog    int
}

// DownloadPiece drives the pipelined block-request loop against this
// session for a single piece: it keeps up to pipelineDepth requests in
// flight, applies incoming piece/have/choke messages, and returns once
// every block has arrived. It does not verify the piece hash; callers
// compare the result against the expected digest.
func (s *Session) DownloadPiece(ctx context.Context, index int, length int64, pipelineDepth int) ([]byte, error) {
	if pipelineDepth <= 0 {
		pipelineDepth = DefaultPipelineDepth
	}

	p := &progress{index: index, buffer: make([]byte, length)}

	deadline := time.Now().Add(BlockTimeout)
	defer s.Conn.SetReadDeadline(time.Time{})

	for p.downloaded < len(p.buffer) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(ErrPeerUnavailable, err.Error())
		}
		if time.Now().After(deadline) {
			return nil, errors.Wrap(ErrPeerUnavailable, "piece download exceeded BlockTimeout")
		}

		if !s.Choked {
			for p.backlog < pipelineDepth && p.requested < len(p.buffer) {
				blockSize := BlockSize
				if remaining := len(p.buffer) - p.requested; remaining < blockSize {
					blockSize = remaining
				}
				if err := s.SendRequest(index, p.requested, blockSize); err != nil {
					return nil, err
				}
				p.backlog++
				p.requested += blockSize
			}
		}

		if err := s.applyNextMessage(p, deadline); err != nil {
			return nil, err
		}
	}

	return p.buffer, nil
}

func (s *Session) applyNextMessage(p *progress, pieceDeadline time.Time) error {
	readDeadline := time.Now().Add(IdleTimeout)
	if readDeadline.After(pieceDeadline) {
		readDeadline = pieceDeadline
	}
	s.Conn.SetReadDeadline(readDeadline)

	m, err := s.Read()
	if err != nil {
		return err
	}
	if m == nil {
		return nil // keep-alive
	}

	switch m.ID {
	case message.Unchoke:
		s.Choked = false
	case message.Choke:
		s.Choked = true
	case message.Bitfield:
		s.Bitfield = bitfield.Bitfield(m.Payload)
	case message.Have:
		idx, err := message.ParseHave(m)
		if err != nil {
			return errors.Wrap(message.ErrProtocolViolation, err.Error())
		}
		s.Bitfield.Set(idx)
	case message.Piece:
		n, err := message.ParsePiece(p.index, p.buffer, m)
		if err != nil {
			return errors.Wrap(message.ErrProtocolViolation, err.Error())
		}
		p.downloaded += n
		p.backlog--
	}
	return nil
}

// VerifyPiece checks buf's SHA-1 digest against expected.
func VerifyPiece(buf []byte, expected [20]byte) error {
	got := sha1.Sum(buf)
	if got != expected {
		return errors.Wrapf(ErrHashMismatch, "got %x, want %x", got, expected)
	}
	return nil
}
