package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"bitTorrent/bencode"
	"bitTorrent/download"
	"bitTorrent/internal/clog"
	"bitTorrent/metainfo"
	"bitTorrent/peer"
	"bitTorrent/tracker"
)

// listenPort is the port advertised to trackers; this client never accepts
// inbound connections, but trackers expect one regardless.
const listenPort = 6881

const announceTimeout = 15 * time.Second

// DecodeCmd implements `bittorrent decode <bencoded>`.
type DecodeCmd struct {
	Bencoded string `arg:"" help:"A raw bencoded value, e.g. 'd3:foo3:bare'."`
}

func (c *DecodeCmd) Run() error {
	v, _, err := bencode.DecodeBytes([]byte(c.Bencoded))
	if err != nil {
		return err
	}
	js, err := bencode.ToJSON(v)
	if err != nil {
		return errors.Wrap(err, "rendering JSON")
	}
	fmt.Println(string(js))
	return nil
}

// InfoCmd implements `bittorrent info <path>`.
type InfoCmd struct {
	Path string `arg:"" type:"existingfile" help:"Path to a .torrent file."`
}

func (c *InfoCmd) Run() error {
	m, err := metainfo.LoadFile(c.Path)
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", m.Announce)
	fmt.Printf("Length: %d\n", m.Info.Length)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(m.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", m.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for i := 0; i < m.PieceCount(); i++ {
		h := m.PieceHash(i)
		fmt.Println(hex.EncodeToString(h[:]))
	}
	return nil
}

// PeersCmd implements `bittorrent peers <path>`.
type PeersCmd struct {
	Path string `arg:"" type:"existingfile" help:"Path to a .torrent file."`
}

func (c *PeersCmd) Run() error {
	m, err := metainfo.LoadFile(c.Path)
	if err != nil {
		return err
	}

	peerID, err := download.NewPeerID()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	client := tracker.NewClient(peerID)
	peers, err := client.Announce(ctx, m, listenPort)
	if err != nil {
		return err
	}

	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

// HandshakeCmd implements `bittorrent handshake <path> <peer>`.
type HandshakeCmd struct {
	Path string `arg:"" type:"existingfile" help:"Path to a .torrent file."`
	Peer string `arg:"" help:"Peer address as ip:port."`
}

func (c *HandshakeCmd) Run() error {
	m, err := metainfo.LoadFile(c.Path)
	if err != nil {
		return err
	}

	p, err := parsePeerAddr(c.Peer)
	if err != nil {
		return err
	}

	peerID, err := download.NewPeerID()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), peer.DialTimeout+peer.HandshakeTimeout)
	defer cancel()

	sess, err := peer.Dial(ctx, p, peerID, m.InfoHash, m.PieceCount())
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(sess.PeerID[:]))
	return nil
}

// DownloadPieceCmd implements `bittorrent download_piece -o <out> <path> <index>`.
type DownloadPieceCmd struct {
	Out   string `short:"o" required:"" help:"Output file path."`
	Path  string `arg:"" type:"existingfile" help:"Path to a .torrent file."`
	Index int    `arg:"" help:"Zero-based piece index."`
}

func (c *DownloadPieceCmd) Run() error {
	m, err := metainfo.LoadFile(c.Path)
	if err != nil {
		return err
	}

	peers, peerID, err := announcePeers(m)
	if err != nil {
		return err
	}

	coord := download.New(m, peers, peerID, download.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), peer.BlockTimeout*time.Duration(len(peers)+1))
	defer cancel()

	buf, err := coord.DownloadPiece(ctx, c.Index)
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.Out, buf, 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", c.Out)
	}
	clog.Logger().Info().Str("file", c.Out).Int("piece", c.Index).Msg("piece saved")
	return nil
}

// DownloadCmd implements `bittorrent download -o <out> <path>`.
type DownloadCmd struct {
	Out  string `short:"o" required:"" help:"Output file path."`
	Path string `arg:"" type:"existingfile" help:"Path to a .torrent file."`
}

func (c *DownloadCmd) Run() error {
	m, err := metainfo.LoadFile(c.Path)
	if err != nil {
		return err
	}

	peers, peerID, err := announcePeers(m)
	if err != nil {
		return err
	}

	coord := download.New(m, peers, peerID, download.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), peer.BlockTimeout*time.Duration(m.PieceCount()+1))
	defer cancel()

	buf, err := coord.Download(ctx)
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.Out, buf, 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", c.Out)
	}
	fmt.Printf("The torrent has been saved to %s\n", c.Out)
	return nil
}

// parsePeerAddr parses an "ip:port" string into a tracker.Peer.
func parsePeerAddr(addr string) (tracker.Peer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return tracker.Peer{}, errors.Wrapf(err, "parsing peer address %q", addr)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return tracker.Peer{}, errors.Errorf("invalid peer IP %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return tracker.Peer{}, errors.Wrapf(err, "invalid peer port %q", portStr)
	}
	return tracker.Peer{IP: ip, Port: uint16(port)}, nil
}

// announcePeers contacts the tracker and returns both the discovered peers
// and the local peer-id used to talk to them.
func announcePeers(m *metainfo.Metainfo) ([]tracker.Peer, [20]byte, error) {
	peerID, err := download.NewPeerID()
	if err != nil {
		return nil, peerID, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	client := tracker.NewClient(peerID)
	peers, err := client.Announce(ctx, m, listenPort)
	if err != nil {
		return nil, peerID, err
	}
	return peers, peerID, nil
}
