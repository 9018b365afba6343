// Package tracker implements the HTTP tracker announce request, including
// the custom percent-encoding rule for binary query parameters, and parses
// the compact peer list out of the bencoded response.
package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"bitTorrent/bencode"
	"bitTorrent/metainfo"
)

// ErrTracker is the sentinel wrapped by announce failures (the
// TrackerError error kind).
var ErrTracker = errors.New("tracker: request failed")

const peerBinarySize = 6

// Peer is a discovered peer endpoint.
type Peer struct {
	IP   net.IP
	Port uint16
}

// String renders the peer as "ip:port".
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Client issues tracker announce requests on behalf of one local peer-id.
type Client struct {
	HTTPClient *http.Client
	PeerID     [20]byte
}

// NewClient returns a tracker client identified by peerID, using
// http.DefaultClient.
func NewClient(peerID [20]byte) *Client {
	return &Client{HTTPClient: http.DefaultClient, PeerID: peerID}
}

// Announce builds and issues the tracker GET request and returns the
// peers the tracker reports.
func (c *Client) Announce(ctx context.Context, m *metainfo.Metainfo, port uint16) ([]Peer, error) {
	reqURL, err := c.buildURL(m, port)
	if err != nil {
		return nil, errors.Wrap(ErrTracker, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(ErrTracker, err.Error())
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrTracker, "announce request: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrapf(ErrTracker, "tracker returned status %d", resp.StatusCode)
	}

	return parseResponse(resp.Body)
}

func (c *Client) buildURL(m *metainfo.Metainfo, port uint16) (string, error) {
	base, err := url.Parse(m.Announce)
	if err != nil {
		return "", errors.Wrapf(err, "parsing announce url %q", m.Announce)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("unsupported tracker scheme %q (only http/https trackers are supported)", base.Scheme)
	}

	query := fmt.Sprintf(
		"port=%d&uploaded=0&downloaded=0&left=%d&compact=1&info_hash=%s&peer_id=%s",
		port, m.Info.Length, EscapeBinary(m.InfoHash[:]), EscapeBinary(c.PeerID[:]),
	)
	base.RawQuery = query
	return base.String(), nil
}

// EscapeBinary percent-encodes b the way trackers expect binary query
// parameters (info_hash, peer_id) to be encoded: a byte is emitted
// verbatim if it is an unreserved character (ASCII letters, digits, or one
// of "-_.~"); every other byte becomes "%xx" with lowercase hex digits.
// This differs from net/url's QueryEscape only in case (lowercase hex) and
// in treating space as "%20" rather than "+".
func EscapeBinary(b []byte) string {
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		if isUnreserved(c) {
			out = append(out, c)
			continue
		}
		out = append(out, '%', hex[c>>4], hex[c&0x0f])
	}
	return string(out)
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

func parseResponse(body io.Reader) ([]Peer, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return nil, errors.Wrap(ErrTracker, err.Error())
	}
	dict, ok := v.(*bencode.Dictionary)
	if !ok {
		return nil, errors.Wrap(ErrTracker, "tracker response is not a dictionary")
	}

	if reason, ok := dict.Get("failure reason"); ok {
		s, _ := reason.(bencode.String)
		return nil, errors.Wrapf(ErrTracker, "tracker failure: %s", string(s))
	}

	peersVal, ok := dict.Get("peers")
	if !ok {
		return nil, errors.Wrap(ErrTracker, "tracker response missing \"peers\"")
	}
	compact, ok := peersVal.(bencode.String)
	if !ok {
		return nil, errors.Wrap(ErrTracker, "\"peers\" is not a compact byte string")
	}
	return decodeCompactPeers(compact)
}

func decodeCompactPeers(compact []byte) ([]Peer, error) {
	if len(compact)%peerBinarySize != 0 {
		return nil, errors.Wrapf(ErrTracker, "compact peers length %d not a multiple of %d", len(compact), peerBinarySize)
	}
	count := len(compact) / peerBinarySize
	peers := make([]Peer, count)
	for i := 0; i < count; i++ {
		off := i * peerBinarySize
		peers[i] = Peer{
			IP:   net.IP(compact[off : off+4]),
			Port: binary.BigEndian.Uint16(compact[off+4 : off+6]),
		}
	}
	return peers, nil
}
