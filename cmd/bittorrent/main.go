// Command bittorrent is a minimal BitTorrent client: decode bencode data,
// inspect a .torrent file, list its peers, shake hands with one, and
// download a single piece or the whole file.
package main

import (
	"github.com/alecthomas/kong"

	"bitTorrent/internal/clog"
)

// cli is the top-level kong command tree, one subcommand per client verb.
var cli struct {
	Verbose bool `help:"Enable debug logging to stderr." short:"v"`

	Decode        DecodeCmd        `cmd:"" help:"Decode a bencoded value and print it as JSON."`
	Info          InfoCmd          `cmd:"" help:"Print a .torrent file's metadata."`
	Peers         PeersCmd         `cmd:"" help:"List the peers a tracker returns for a .torrent file."`
	Handshake     HandshakeCmd     `cmd:"" help:"Perform the peer handshake and print the remote peer id."`
	DownloadPiece DownloadPieceCmd `cmd:"download_piece" help:"Download a single piece and write it to a file."`
	Download      DownloadCmd      `cmd:"" help:"Download the whole file."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("bittorrent"),
		kong.Description("A minimal BitTorrent client."),
		kong.UsageOnError(),
	)

	clog.SetVerbose(cli.Verbose)

	ctx.FatalIfErrorf(ctx.Run())
}
