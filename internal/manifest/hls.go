package manifest

import (
	"fmt"
	"math"
	"strings"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
)

// HLS is the full set of HLS playlists for one source: the multivariant
// (master) playlist plus one media playlist per rendition.
type HLS struct {
	Master string
	Media  map[string]string // profile name -> playlist body
}

// GenerateHLS builds the multivariant playlist and per-rendition media
// playlists. Renditions appear in the master in descending bandwidth order;
// media playlists list segments in inventory order and always end with
// EXT-X-ENDLIST (this system only produces finished, non-live playlists).
func GenerateHLS(inventories map[string]*encoder.SegmentInventory, l ladder.Ladder) (*HLS, error) {
	rns, err := validateSet(inventories, l)
	if err != nil {
		return nil, err
	}

	out := &HLS{Media: make(map[string]string, len(rns))}

	var master strings.Builder
	master.WriteString("#EXTM3U\n")
	master.WriteString("#EXT-X-VERSION:6\n")
	for _, r := range rns {
		master.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n",
			r.profile.Bandwidth(), r.profile.Resolution()))
		master.WriteString(r.profile.Name + "/" + encoder.PlaylistName + "\n")
	}
	out.Master = master.String()

	for _, r := range rns {
		out.Media[r.profile.Name] = buildMediaPlaylist(r.inventory)
	}
	return out, nil
}

// buildMediaPlaylist renders one rendition's segment list. The target
// duration is the configured segment duration rounded up, raised to cover
// the longest actual segment. The protocol requires target duration to be
// >= every segment duration.
func buildMediaPlaylist(inv *encoder.SegmentInventory) string {
	target := int(math.Ceil(inv.SegmentDuration))
	if max := inv.MaxSegmentDuration(); max > float64(target) {
		target = int(math.Ceil(max))
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", target))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for i, uri := range inv.SegmentURIs {
		b.WriteString(fmt.Sprintf("#EXTINF:%.6f,\n", inv.SegmentDurations[i]))
		b.WriteString(uri)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
