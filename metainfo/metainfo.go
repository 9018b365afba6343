// Package metainfo loads a .torrent metainfo file, validates its required
// fields, and derives the info-hash and per-piece metadata the rest of the
// client needs.
package metainfo

import (
	"crypto/sha1"
	"io"
	"os"

	"github.com/pkg/errors"

	"bitTorrent/bencode"
)

// ErrMalformed is the sentinel wrapped by every structural validation
// failure (the MalformedMetainfo error kind).
var ErrMalformed = errors.New("metainfo: malformed metainfo")

const pieceHashLen = 20

// Info holds the fields of the metainfo "info" dictionary this client
// understands. Multi-file torrents are out of scope (spec Non-goals).
type Info struct {
	Length      int64
	Name        string
	PieceLength int64
	Pieces      []byte // concatenation of 20-byte piece digests
}

// Metainfo is the decoded, validated contents of a .torrent file.
type Metainfo struct {
	Announce string
	Info     Info
	InfoHash [20]byte
}

// LoadFile opens and loads a metainfo file at path.
func LoadFile(path string) (*Metainfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metainfo file %q", path)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a metainfo byte stream, validates it, and computes the
// info-hash from the exact original bytes of the "info" dictionary (rather
// than re-encoding it).
func Load(r io.Reader) (*Metainfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading metainfo")
	}

	var sd bencode.SpanDecoder
	top, err := sd.DecodeWithSpans(data)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	topDict, ok := top.(*bencode.Dictionary)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "top-level value is not a dictionary")
	}

	announce, err := requireString(topDict, "announce")
	if err != nil {
		return nil, err
	}

	infoVal, ok := topDict.Get("info")
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "missing \"info\" key")
	}
	infoDict, ok := infoVal.(*bencode.Dictionary)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "\"info\" is not a dictionary")
	}

	info, err := parseInfo(infoDict)
	if err != nil {
		return nil, err
	}

	start, end, ok := sd.Span(infoVal)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "could not locate \"info\" byte span")
	}

	return &Metainfo{
		Announce: announce,
		Info:     info,
		InfoHash: sha1.Sum(data[start:end]),
	}, nil
}

func parseInfo(d *bencode.Dictionary) (Info, error) {
	name, err := requireString(d, "name")
	if err != nil {
		return Info{}, err
	}
	length, err := requireInteger(d, "length")
	if err != nil {
		return Info{}, err
	}
	if length <= 0 {
		return Info{}, errors.Wrap(ErrMalformed, "\"length\" must be positive")
	}
	pieceLength, err := requireInteger(d, "piece length")
	if err != nil {
		return Info{}, err
	}
	if pieceLength <= 0 {
		return Info{}, errors.Wrap(ErrMalformed, "\"piece length\" must be positive")
	}
	pieces, err := requireStringBytes(d, "pieces")
	if err != nil {
		return Info{}, err
	}
	if len(pieces)%pieceHashLen != 0 {
		return Info{}, errors.Wrapf(ErrMalformed, "\"pieces\" length %d is not a multiple of %d", len(pieces), pieceHashLen)
	}

	return Info{
		Length:      length,
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
	}, nil
}

func requireString(d *bencode.Dictionary, key string) (string, error) {
	b, err := requireStringBytes(d, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func requireStringBytes(d *bencode.Dictionary, key string) ([]byte, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, errors.Wrapf(ErrMalformed, "missing %q key", key)
	}
	s, ok := v.(bencode.String)
	if !ok {
		return nil, errors.Wrapf(ErrMalformed, "%q is not a string", key)
	}
	return []byte(s), nil
}

func requireInteger(d *bencode.Dictionary, key string) (int64, error) {
	v, ok := d.Get(key)
	if !ok {
		return 0, errors.Wrapf(ErrMalformed, "missing %q key", key)
	}
	i, ok := v.(bencode.Integer)
	if !ok {
		return 0, errors.Wrapf(ErrMalformed, "%q is not an integer", key)
	}
	return int64(i), nil
}

// PieceCount returns the number of 20-byte digests in Info.Pieces. For a
// well-formed file this is ceil(length/piece_length); Load does not check
// that the two agree.
func (m *Metainfo) PieceCount() int {
	return len(m.Info.Pieces) / pieceHashLen
}

// PieceHash returns the expected 20-byte digest of piece index.
func (m *Metainfo) PieceHash(index int) [20]byte {
	var h [20]byte
	copy(h[:], m.Info.Pieces[index*pieceHashLen:(index+1)*pieceHashLen])
	return h
}

// PieceLen returns the length of piece index in bytes; the last piece may
// be shorter than Info.PieceLength.
func (m *Metainfo) PieceLen(index int) int64 {
	begin := int64(index) * m.Info.PieceLength
	end := begin + m.Info.PieceLength
	if end > m.Info.Length {
		end = m.Info.Length
	}
	return end - begin
}
