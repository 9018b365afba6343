package metainfo_test

import (
	"bytes"
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitTorrent/metainfo"
)

func rawTorrent(announce, name string, length, pieceLength int64, pieces string) string {
	return "d8:announce" + strLit(announce) +
		"4:infod6:lengthi" + itoa(length) + "e4:name" + strLit(name) +
		"12:piece lengthi" + itoa(pieceLength) + "e6:pieces" + strLit(pieces) + "ee"
}

func strLit(s string) string {
	return itoa(int64(len(s))) + ":" + s
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestLoadValidSingleFileTorrent(t *testing.T) {
	pieceHash := strings.Repeat("a", 20)
	raw := rawTorrent("http://tracker.example/announce", "file.iso", 100000, 262144, pieceHash)

	m, err := metainfo.Load(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example/announce", m.Announce)
	assert.Equal(t, "file.iso", m.Info.Name)
	assert.Equal(t, int64(100000), m.Info.Length)
	assert.Equal(t, int64(262144), m.Info.PieceLength)
	assert.Equal(t, 1, m.PieceCount())
	assert.Equal(t, int64(100000), m.PieceLen(0))
}

func TestInfoHashIgnoresSurroundingTopLevelKeys(t *testing.T) {
	pieceHash := strings.Repeat("b", 20)

	raw1 := "d8:announce3:abc" + "4:infod6:lengthi5e4:name1:x12:piece lengthi5e6:pieces" + strLit(pieceHash) + "ee"
	raw2 := "d8:announce5:other7:comment2:hi" + "4:infod6:lengthi5e4:name1:x12:piece lengthi5e6:pieces" + strLit(pieceHash) + "ee"

	m1, err := metainfo.Load(strings.NewReader(raw1))
	require.NoError(t, err)
	m2, err := metainfo.Load(strings.NewReader(raw2))
	require.NoError(t, err)

	assert.Equal(t, m1.InfoHash, m2.InfoHash, "info-hash must not depend on the top-level keys around info")
}

func TestInfoHashIsSHA1OfRawInfoBytes(t *testing.T) {
	pieceHash := strings.Repeat("c", 20)
	infoBytes := "d6:lengthi5e4:name1:x12:piece lengthi5e6:pieces" + strLit(pieceHash) + "e"
	raw := "d8:announce3:abc4:info" + infoBytes + "e"

	m, err := metainfo.Load(strings.NewReader(raw))
	require.NoError(t, err)

	want := sha1.Sum([]byte(infoBytes))
	assert.Equal(t, want, m.InfoHash)
}

func TestLoadRejectsBadPiecesLength(t *testing.T) {
	raw := rawTorrent("http://t", "f", 10, 10, "short")
	_, err := metainfo.Load(strings.NewReader(raw))
	assert.Error(t, err)
}

func TestLoadRejectsMissingFields(t *testing.T) {
	raw := "d8:announce3:abce"
	_, err := metainfo.Load(strings.NewReader(raw))
	assert.Error(t, err)
}

func TestLoadRejectsNonDictionaryTopLevel(t *testing.T) {
	_, err := metainfo.Load(bytes.NewReader([]byte("4:spam")))
	assert.Error(t, err)
}

func TestPieceHashAndFinalPieceLength(t *testing.T) {
	pieces := strings.Repeat("1", 20) + strings.Repeat("2", 20)
	raw := rawTorrent("http://t", "f", 300000, 262144, pieces)

	m, err := metainfo.Load(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, 2, m.PieceCount())
	assert.Equal(t, int64(262144), m.PieceLen(0))
	assert.Equal(t, int64(300000-262144), m.PieceLen(1))

	var want0, want1 [20]byte
	copy(want0[:], strings.Repeat("1", 20))
	copy(want1[:], strings.Repeat("2", 20))
	assert.Equal(t, want0, m.PieceHash(0))
	assert.Equal(t, want1, m.PieceHash(1))
}
