package tracker_test

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitTorrent/metainfo"
	"bitTorrent/tracker"
)

func TestEscapeBinaryMatchesSpecExample(t *testing.T) {
	hash, err := hex.DecodeString("d69f91e6b2ae4c542468d1073a71d4ea13879a7f")
	require.NoError(t, err)
	got := tracker.EscapeBinary(hash)
	want := "%d6%9f%91%e6%b2%aeLT%24h%d1%07%3aq%d4%ea%13%87%9a%7f"
	assert.Equal(t, want, got)
}

func TestEscapeBinaryLeavesUnreservedBytesVerbatim(t *testing.T) {
	got := tracker.EscapeBinary([]byte("Az09-_.~"))
	assert.Equal(t, "Az09-_.~", got)
}

func newCompactPeersResponse(t *testing.T) string {
	t.Helper()
	return "d8:intervali900e5:peers12:" +
		string([]byte{127, 0, 0, 1, 0x1a, 0xe1}) +
		string([]byte{127, 0, 0, 2, 0x1a, 0xe2}) +
		"e"
}

func TestAnnounceParsesCompactPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(newCompactPeersResponse(t)))
	}))
	defer srv.Close()

	raw := "d8:announce" + lenPrefixed(srv.URL) +
		"4:infod6:lengthi10e4:name1:f12:piece lengthi10e6:pieces20:aaaaaaaaaaaaaaaaaaaaee"
	m, err := metainfo.Load(strings.NewReader(raw))
	require.NoError(t, err)

	c := tracker.NewClient([20]byte{1, 2, 3})
	peers, err := c.Announce(context.Background(), m, 6881)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "127.0.0.1:6881", peers[0].String())
	assert.Equal(t, "127.0.0.2:6882", peers[1].String())
}

func TestAnnounceSurfacesFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("d14:failure reason13:not a torrente"))
	}))
	defer srv.Close()

	raw := "d8:announce" + lenPrefixed(srv.URL) +
		"4:infod6:lengthi10e4:name1:f12:piece lengthi10e6:pieces20:aaaaaaaaaaaaaaaaaaaaee"
	m, err := metainfo.Load(strings.NewReader(raw))
	require.NoError(t, err)

	c := tracker.NewClient([20]byte{1})
	_, err = c.Announce(context.Background(), m, 6881)
	assert.Error(t, err)
}

func TestAnnounceSurfacesNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	raw := "d8:announce" + lenPrefixed(srv.URL) +
		"4:infod6:lengthi10e4:name1:f12:piece lengthi10e6:pieces20:aaaaaaaaaaaaaaaaaaaaee"
	m, err := metainfo.Load(strings.NewReader(raw))
	require.NoError(t, err)

	c := tracker.NewClient([20]byte{1})
	_, err = c.Announce(context.Background(), m, 6881)
	assert.Error(t, err)
}

func lenPrefixed(s string) string {
	return itoa(len(s)) + ":" + s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
