package manifest

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
)

// mpdTimescale is ticks per second in segment timelines. 1000 keeps segment
// durations in whole milliseconds.
const mpdTimescale = 1000

// MPD models the DASH Media Presentation Description document.
type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Xmlns                     string   `xml:"xmlns,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	Type                      string   `xml:"type,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	Period                    Period   `xml:"Period"`
}

type Period struct {
	ID             string          `xml:"id,attr"`
	Duration       string          `xml:"duration,attr"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

type AdaptationSet struct {
	ID               int              `xml:"id,attr"`
	ContentType      string           `xml:"contentType,attr"`
	SegmentAlignment bool             `xml:"segmentAlignment,attr"`
	Representations  []Representation `xml:"Representation"`
}

type Representation struct {
	ID              string           `xml:"id,attr"`
	MimeType        string           `xml:"mimeType,attr"`
	Codecs          string           `xml:"codecs,attr"`
	Bandwidth       int              `xml:"bandwidth,attr"`
	Width           int              `xml:"width,attr"`
	Height          int              `xml:"height,attr"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
}

type SegmentTemplate struct {
	Timescale   int             `xml:"timescale,attr"`
	Media       string          `xml:"media,attr"`
	StartNumber int             `xml:"startNumber,attr"`
	Timeline    SegmentTimeline `xml:"SegmentTimeline"`
}

type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S is one segment timeline entry: d ticks, repeated r additional times.
type S struct {
	T *int64 `xml:"t,attr,omitempty"`
	D int64  `xml:"d,attr"`
	R int    `xml:"r,attr,omitempty"`
}

// GenerateDASH builds a static MPD with one video AdaptationSet carrying a
// Representation per rendition. Representations reference the MPEG-TS
// segments the HLS encode already produced (muxed audio, so no separate
// audio AdaptationSet and no init segment), giving one segment store shared
// by both manifests. Segment timelines are derived from segment count and
// duration, with the final entry adjusted so the timeline sums to the
// inventory's total duration exactly, avoiding cumulative drift across long
// presentations. Output carries no timestamp, so generation is
// byte-deterministic.
func GenerateDASH(inventories map[string]*encoder.SegmentInventory, l ladder.Ladder, segmentDuration float64) (string, error) {
	rns, err := validateSet(inventories, l)
	if err != nil {
		return "", err
	}

	longest := 0.0
	for _, r := range rns {
		if r.inventory.TotalDuration > longest {
			longest = r.inventory.TotalDuration
		}
	}
	presentation := isoDuration(longest)

	set := AdaptationSet{
		ID:               0,
		ContentType:      "video",
		SegmentAlignment: true,
	}
	for _, r := range rns {
		set.Representations = append(set.Representations, Representation{
			ID:        r.profile.Name,
			MimeType:  "video/mp2t",
			Codecs:    "avc1.64001f,mp4a.40.2",
			Bandwidth: r.profile.Bandwidth(),
			Width:     r.profile.Width,
			Height:    r.profile.Height,
			SegmentTemplate: &SegmentTemplate{
				Timescale:   mpdTimescale,
				Media:       "../hls/$RepresentationID$/segment_$Number%03d$.ts",
				StartNumber: 0,
				Timeline:    buildTimeline(r.inventory),
			},
		})
	}

	doc := MPD{
		Xmlns:                     "urn:mpeg:dash:schema:mpd:2011",
		Profiles:                  "urn:mpeg:dash:profile:mp2t-simple:2011",
		Type:                      "static",
		MediaPresentationDuration: presentation,
		MinBufferTime:             fmt.Sprintf("PT%gS", segmentDuration),
		Period: Period{
			ID:             "0",
			Duration:       presentation,
			AdaptationSets: []AdaptationSet{set},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mpd: %w", err)
	}
	return xml.Header + string(body) + "\n", nil
}

// buildTimeline converts an inventory into timeline entries: one repeated
// full-duration S plus a final S sized so the sum matches TotalDuration.
func buildTimeline(inv *encoder.SegmentInventory) SegmentTimeline {
	n := inv.SegmentCount
	total := int64(math.Round(inv.TotalDuration * mpdTimescale))
	full := int64(math.Round(inv.SegmentDuration * mpdTimescale))

	start := int64(0)
	if n == 1 {
		return SegmentTimeline{Segments: []S{{T: &start, D: total}}}
	}

	last := total - int64(n-1)*full
	if last <= 0 {
		// Actual segments ran shorter than the target; fall back to even
		// division so every entry stays positive and the sum still matches.
		full = total / int64(n)
		last = total - int64(n-1)*full
	}

	segs := []S{{T: &start, D: full}}
	if n > 2 {
		segs[0].R = n - 2
	}
	segs = append(segs, S{D: last})
	return SegmentTimeline{Segments: segs}
}

// isoDuration formats seconds as an ISO-8601 duration (PT<...>S form, with
// millisecond precision and trailing zeros trimmed).
func isoDuration(seconds float64) string {
	s := strconv.FormatFloat(seconds, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return "PT" + s + "S"
}
