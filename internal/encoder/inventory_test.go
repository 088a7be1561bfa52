package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePlaylist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadInventory(t *testing.T) {
	path := writePlaylist(t, `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.000000,
segment_000.ts
#EXTINF:10.000000,
segment_001.ts
#EXTINF:4.500000,
segment_002.ts
#EXT-X-ENDLIST
`)

	inv, err := ReadInventory(path, "720p", 10, 3_128_000)
	if err != nil {
		t.Fatalf("ReadInventory failed: %v", err)
	}

	if inv.SegmentCount != 3 {
		t.Errorf("segment count = %d, want 3", inv.SegmentCount)
	}
	if inv.SegmentURIs[2] != "segment_002.ts" {
		t.Errorf("last uri = %s", inv.SegmentURIs[2])
	}
	if inv.SegmentDurations[2] != 4.5 {
		t.Errorf("last duration = %f, want 4.5", inv.SegmentDurations[2])
	}
	if inv.TotalDuration != 24.5 {
		t.Errorf("total duration = %f, want 24.5", inv.TotalDuration)
	}
	if inv.Bandwidth != 3_128_000 {
		t.Errorf("bandwidth = %d", inv.Bandwidth)
	}
	if got := inv.MaxSegmentDuration(); got != 10 {
		t.Errorf("max segment duration = %f, want 10", got)
	}
}

func TestReadInventoryRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"segment without EXTINF", "#EXTM3U\nsegment_000.ts\n"},
		{"bad EXTINF value", "#EXTM3U\n#EXTINF:abc,\nsegment_000.ts\n"},
		{"no segments", "#EXTM3U\n#EXT-X-ENDLIST\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePlaylist(t, tt.content)
			if _, err := ReadInventory(path, "720p", 10, 1); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInventoryValidateTolerance(t *testing.T) {
	inv := &SegmentInventory{
		ProfileName:      "480p",
		SegmentDuration:  10,
		SegmentCount:     2,
		SegmentURIs:      []string{"a.ts", "b.ts"},
		SegmentDurations: []float64{10, 3},
		TotalDuration:    13,
	}
	if err := inv.Validate(); err != nil {
		t.Errorf("short last segment within tolerance should pass: %v", err)
	}

	// Total wildly off from count*duration
	inv.TotalDuration = 5
	if err := inv.Validate(); err == nil {
		t.Error("total duration outside tolerance should fail")
	}

	// Count mismatch
	inv.TotalDuration = 13
	inv.SegmentCount = 3
	if err := inv.Validate(); err == nil {
		t.Error("count/uri mismatch should fail")
	}
}

func TestClassify(t *testing.T) {
	bg := context.Background()

	tests := []struct {
		name   string
		ctx    context.Context
		stderr string
		want   ErrorKind
	}{
		{"unreadable input", bg, "sample.mp4: Invalid data found when processing input", KindSourceUnreadable},
		{"missing file", bg, "No such file or directory", KindSourceUnreadable},
		{"unknown codec", bg, "Unknown codec 'foo'", KindUnsupportedCodec},
		{"disk full", bg, "No space left on device", KindInsufficientResources},
		{"opaque failure", bg, "something exploded", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ctx, errors.New("exit status 1"), tt.stderr)
			if got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	if got := Classify(ctx, errors.New("signal: killed"), ""); got != KindTimeout {
		t.Errorf("Classify = %s, want %s", got, KindTimeout)
	}
}

func TestErrorKindTransient(t *testing.T) {
	if KindSourceUnreadable.Transient() || KindUnsupportedCodec.Transient() {
		t.Error("source errors should be permanent")
	}
	if !KindTimeout.Transient() || !KindUnknown.Transient() || !KindInsufficientResources.Transient() {
		t.Error("resource/timeout/unknown errors should be transient")
	}
}
