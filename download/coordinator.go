// Package download implements the full-file and single-piece download
// flows on top of the peer and tracker packages: a worker-per-peer pool
// pulling from a shared queue of remaining pieces, writing verified blocks
// straight into their final offsets.
package download

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bitTorrent/internal/clog"
	"bitTorrent/metainfo"
	"bitTorrent/peer"
	"bitTorrent/tracker"
)

// workPollInterval is how long an idle worker waits before re-checking the
// queue for newly requeued pieces; dialRetryInterval is the equivalent wait
// after a failed dial or post-handshake send.
const (
	workPollInterval  = 50 * time.Millisecond
	dialRetryInterval = 2 * time.Second
)

// ErrNoPeersAvailable is the sentinel wrapped when every peer has failed a
// piece (the PeerUnavailable error kind, specialised to the coordinator).
var ErrNoPeersAvailable = errors.New("download: no peer could supply this piece")

// Options tunes the coordinator's concurrency and retry behavior.
type Options struct {
	// PipelineDepth is the number of in-flight block requests per peer
	// session. Zero selects peer.DefaultPipelineDepth.
	PipelineDepth int
	// MaxAttemptsPerPiece caps how many distinct peers are tried for a
	// single piece before it is abandoned. Zero selects "every known
	// peer", i.e. only give up once nobody is left to try.
	MaxAttemptsPerPiece int
}

// Coordinator drives a download of one torrent across a fixed peer list.
type Coordinator struct {
	Metainfo *metainfo.Metainfo
	Peers    []tracker.Peer
	PeerID   [20]byte
	Opts     Options
}

// New constructs a Coordinator. peerID should be a 20-byte client
// identifier; a random one is generated by NewPeerID if the caller doesn't
// need a stable identity across runs.
func New(m *metainfo.Metainfo, peers []tracker.Peer, peerID [20]byte, opts Options) *Coordinator {
	if opts.PipelineDepth <= 0 {
		opts.PipelineDepth = peer.DefaultPipelineDepth
	}
	if opts.MaxAttemptsPerPiece <= 0 {
		opts.MaxAttemptsPerPiece = len(peers)
	}
	return &Coordinator{Metainfo: m, Peers: peers, PeerID: peerID, Opts: opts}
}

// NewPeerID generates a random Azureus-style 20-byte peer identifier,
// e.g. "-GR0001-" followed by random bytes.
func NewPeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], "-GR0001-")
	if _, err := rand.Read(id[8:]); err != nil {
		return id, errors.Wrap(err, "generating peer id")
	}
	return id, nil
}

// DownloadPiece performs the single-piece flow: try peers in order (each
// excluded once it fails) until one serves and verifies the requested
// piece, or every peer has been tried.
func (c *Coordinator) DownloadPiece(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= c.Metainfo.PieceCount() {
		return nil, errors.Errorf("download: piece index %d out of range", index)
	}

	length := c.Metainfo.PieceLen(index)
	expected := c.Metainfo.PieceHash(index)

	attempts := c.Opts.MaxAttemptsPerPiece
	if attempts > len(c.Peers) {
		attempts = len(c.Peers)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		buf, err := c.fetchPieceFrom(ctx, c.Peers[i], index, length, expected)
		if err == nil {
			return buf, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrNoPeersAvailable
	}
	return nil, errors.Wrap(ErrNoPeersAvailable, lastErr.Error())
}

func (c *Coordinator) fetchPieceFrom(ctx context.Context, p tracker.Peer, index int, length int64, expected [20]byte) ([]byte, error) {
	sess, err := peer.Dial(ctx, p, c.PeerID, c.Metainfo.InfoHash, c.Metainfo.PieceCount())
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.SendInterested(); err != nil {
		return nil, err
	}

	buf, err := sess.DownloadPiece(ctx, index, length, c.Opts.PipelineDepth)
	if err != nil {
		return nil, err
	}

	if err := peer.VerifyPiece(buf, expected); err != nil {
		return nil, err
	}
	return buf, nil
}

// queue is a mutexed FIFO of remaining piece indices, each tagged with the
// peers that have already failed it so a piece can be abandoned once no
// untried peer remains. A piece is resolved exactly once, either by
// completing or by being abandoned; resolved never un-resolves, so
// done() and peerExhausted() are both monotonic once true.
type queue struct {
	mu       sync.Mutex
	total    int
	pending  []int
	inFlight map[int]bool
	failed   map[int]map[string]bool // piece index -> set of peer addrs that failed it

	resolved       int // pieces completed or abandoned
	abandonedCount int
}

func newQueue(pieceCount int) *queue {
	pending := make([]int, pieceCount)
	for i := range pending {
		pending[i] = i
	}
	return &queue{
		total:    pieceCount,
		pending:  pending,
		inFlight: make(map[int]bool),
		failed:   make(map[int]map[string]bool),
	}
}

// next claims a piece this peer hasn't already failed and marks it
// in-flight, or returns ok=false when none are currently claimable for it
// (which may be transient: other pieces are in flight on other workers, or
// will be requeued if those workers fail them).
func (q *queue) next(addr string) (index int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, idx := range q.pending {
		if q.failed[idx][addr] {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		q.inFlight[idx] = true
		return idx, true
	}
	return 0, false
}

// complete marks index as successfully downloaded and verified.
func (q *queue) complete(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, index)
	q.resolved++
}

// requeue returns a piece to the queue after a failed attempt, recording
// that addr should not be tried again for it. Once every peer has failed
// it, the piece is abandoned instead: resolved so done() can complete, but
// flagged so Download knows the result is incomplete.
func (q *queue) requeue(index int, addr string, maxAttempts int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, index)
	if q.failed[index] == nil {
		q.failed[index] = make(map[string]bool)
	}
	q.failed[index][addr] = true

	if len(q.failed[index]) >= maxAttempts {
		q.resolved++
		q.abandonedCount++
		return
	}
	q.pending = append(q.pending, index)
}

// done reports whether every piece has been resolved, either completed or
// abandoned.
func (q *queue) done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolved >= q.total
}

// anyAbandoned reports whether at least one piece was abandoned because
// every peer failed it.
func (q *queue) anyAbandoned() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abandonedCount > 0
}

// peerExhausted reports whether addr has already failed every piece that
// remains unresolved, i.e. this peer has nothing left it could ever claim.
// Safe to treat as permanent: resolved pieces never return to pending, and
// a peer that has failed a piece is never handed it again by next.
func (q *queue) peerExhausted(addr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, idx := range q.pending {
		if !q.failed[idx][addr] {
			return false
		}
	}
	for idx := range q.inFlight {
		if !q.failed[idx][addr] {
			return false
		}
	}
	return true
}

// Download performs the full-file flow: one worker goroutine per peer,
// each pulling pieces from a shared queue until every piece is resolved,
// writing verified pieces directly into their final offset of a
// pre-allocated buffer (disjoint writes need no further locking). If any
// piece is abandoned because every peer failed it, the result is a
// zero-filled hole at that offset and Download reports ErrNoPeersAvailable
// instead of returning it as a complete file.
func (c *Coordinator) Download(ctx context.Context) ([]byte, error) {
	if len(c.Peers) == 0 {
		return nil, errors.Wrap(ErrNoPeersAvailable, "no peers supplied")
	}

	buf := make([]byte, c.Metainfo.Info.Length)
	q := newQueue(c.Metainfo.PieceCount())
	maxAttempts := c.Opts.MaxAttemptsPerPiece
	if maxAttempts > len(c.Peers) {
		maxAttempts = len(c.Peers)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range c.Peers {
		p := p
		g.Go(func() error {
			return c.runWorker(gctx, p, q, maxAttempts, buf)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if q.anyAbandoned() {
		return nil, errors.Wrap(ErrNoPeersAvailable, "some pieces could not be fetched from any peer")
	}
	return buf, nil
}

// runWorker holds a persistent session to p for as long as it stays
// healthy, pulling pieces off q and writing each into buf. It stays alive
// across transient gaps in the queue (pieces in flight on other workers)
// and across dial/send failures, redialing with a backoff; it exits only
// once the whole download is resolved, p has failed every piece it could
// still claim, or ctx is cancelled.
func (c *Coordinator) runWorker(ctx context.Context, p tracker.Peer, q *queue, maxAttempts int, buf []byte) error {
	addr := p.String()

	for {
		if q.done() || q.peerExhausted(addr) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := peer.Dial(ctx, p, c.PeerID, c.Metainfo.InfoHash, c.Metainfo.PieceCount())
		if err != nil {
			clog.Logger().Debug().Str("peer", addr).Err(err).Msg("could not handshake")
			if !c.wait(ctx, dialRetryInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := sess.SendInterested(); err != nil {
			sess.Close()
			if !c.wait(ctx, dialRetryInterval) {
				return ctx.Err()
			}
			continue
		}

		for {
			if q.done() {
				sess.Close()
				return nil
			}

			index, ok := q.next(addr)
			if !ok {
				if q.peerExhausted(addr) {
					sess.Close()
					return nil
				}
				if !c.wait(ctx, workPollInterval) {
					sess.Close()
					return ctx.Err()
				}
				continue
			}

			if err := c.downloadPieceInto(ctx, sess, index, buf); err != nil {
				clog.Logger().Debug().Str("peer", addr).Int("piece", index).Err(err).Msg("piece failed")
				q.requeue(index, addr, maxAttempts)
				sess.Close()
				break // redial and keep going
			}
			q.complete(index)
			clog.Logger().Debug().Str("peer", addr).Int("piece", index).Msg("piece complete")
		}
	}
}

// wait blocks for d or until ctx is cancelled, reporting which happened.
func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Coordinator) downloadPieceInto(ctx context.Context, sess *peer.Session, index int, buf []byte) error {
	length := c.Metainfo.PieceLen(index)
	expected := c.Metainfo.PieceHash(index)

	pieceBuf, err := sess.DownloadPiece(ctx, index, length, c.Opts.PipelineDepth)
	if err != nil {
		return err
	}
	if err := peer.VerifyPiece(pieceBuf, expected); err != nil {
		return err
	}

	offset := int64(index) * c.Metainfo.Info.PieceLength
	copy(buf[offset:offset+length], pieceBuf)
	return nil
}
