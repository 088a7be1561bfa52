package encoder

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// SegmentInventory describes the segmented output of one rendition encode.
// It is built once per successful encode and never mutated afterwards.
type SegmentInventory struct {
	ProfileName      string    `json:"profile_name"`
	SegmentDuration  float64   `json:"segment_duration"` // target, seconds
	SegmentCount     int       `json:"segment_count"`
	SegmentURIs      []string  `json:"segment_uris"`
	SegmentDurations []float64 `json:"segment_durations"` // actual, seconds
	TotalDuration    float64   `json:"total_duration"`
	Bandwidth        int       `json:"bandwidth"` // bits per second
}

// Validate checks the inventory invariants: URI and duration counts match
// SegmentCount, and the total duration is within one target segment duration
// of count*duration (the last segment may run short).
func (inv *SegmentInventory) Validate() error {
	if inv.SegmentCount != len(inv.SegmentURIs) {
		return fmt.Errorf("inventory %s: segment_count %d != %d uris",
			inv.ProfileName, inv.SegmentCount, len(inv.SegmentURIs))
	}
	if inv.SegmentCount != len(inv.SegmentDurations) {
		return fmt.Errorf("inventory %s: segment_count %d != %d durations",
			inv.ProfileName, inv.SegmentCount, len(inv.SegmentDurations))
	}
	if inv.SegmentCount == 0 {
		return fmt.Errorf("inventory %s: no segments", inv.ProfileName)
	}
	if inv.SegmentDuration <= 0 {
		return fmt.Errorf("inventory %s: segment duration must be positive", inv.ProfileName)
	}
	expected := float64(inv.SegmentCount) * inv.SegmentDuration
	if math.Abs(expected-inv.TotalDuration) > inv.SegmentDuration {
		return fmt.Errorf("inventory %s: total duration %.2fs outside tolerance of %d x %.2fs",
			inv.ProfileName, inv.TotalDuration, inv.SegmentCount, inv.SegmentDuration)
	}
	return nil
}

// MaxSegmentDuration returns the longest actual segment duration.
func (inv *SegmentInventory) MaxSegmentDuration() float64 {
	max := 0.0
	for _, d := range inv.SegmentDurations {
		if d > max {
			max = d
		}
	}
	return max
}

// ReadInventory builds a SegmentInventory from the media playlist ffmpeg
// wrote during a segmented encode. The playlist is the authoritative index:
// it names every segment with its exact duration.
func ReadInventory(playlistPath, profileName string, segmentDuration float64, bandwidth int) (*SegmentInventory, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return nil, fmt.Errorf("open playlist: %w", err)
	}
	defer f.Close()

	inv := &SegmentInventory{
		ProfileName:     profileName,
		SegmentDuration: segmentDuration,
		Bandwidth:       bandwidth,
	}

	var pendingDuration float64
	var havePending bool

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			val := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ",")
			if idx := strings.Index(val, ","); idx >= 0 {
				val = val[:idx]
			}
			d, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("bad EXTINF %q: %w", line, err)
			}
			pendingDuration = d
			havePending = true
		case line == "" || strings.HasPrefix(line, "#"):
			// Other tags carry nothing the inventory needs.
		default:
			if !havePending {
				return nil, fmt.Errorf("segment %q without EXTINF", line)
			}
			inv.SegmentURIs = append(inv.SegmentURIs, line)
			inv.SegmentDurations = append(inv.SegmentDurations, pendingDuration)
			inv.TotalDuration += pendingDuration
			havePending = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}

	inv.SegmentCount = len(inv.SegmentURIs)
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}
