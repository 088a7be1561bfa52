// Package ladder defines the rendition quality ladder: the fixed set of
// resolution/bitrate profiles every job is transcoded into.
package ladder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Profile describes one quality variant of a source video.
type Profile struct {
	Name         string `yaml:"name"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	VideoBitrate int    `yaml:"video_bitrate"` // bits per second
	AudioBitrate int    `yaml:"audio_bitrate"` // bits per second
	Preset       string `yaml:"preset,omitempty"`
	CRF          int    `yaml:"crf,omitempty"`
}

// Bandwidth returns the total declared bandwidth for this profile in
// bits per second, as advertised in HLS/DASH manifests.
func (p Profile) Bandwidth() int {
	return p.VideoBitrate + p.AudioBitrate
}

// Resolution returns the profile resolution formatted as WxH.
func (p Profile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Ladder is an ordered set of profiles. Treat it as immutable once built;
// jobs take their own copy at submission time.
type Ladder []Profile

// Default returns a fresh copy of the standard five-rung ladder.
func Default() Ladder {
	return Ladder{
		{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5_000_000, AudioBitrate: 192_000, Preset: "medium", CRF: 23},
		{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 3_000_000, AudioBitrate: 128_000, Preset: "medium", CRF: 23},
		{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1_500_000, AudioBitrate: 128_000, Preset: "medium", CRF: 23},
		{Name: "360p", Width: 640, Height: 360, VideoBitrate: 800_000, AudioBitrate: 96_000, Preset: "medium", CRF: 23},
		{Name: "240p", Width: 426, Height: 240, VideoBitrate: 400_000, AudioBitrate: 64_000, Preset: "medium", CRF: 23},
	}
}

// Validate checks ladder invariants: non-empty, unique names, positive
// dimensions and bitrates.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("ladder is empty")
	}
	seen := make(map[string]struct{}, len(l))
	for _, p := range l {
		if p.Name == "" {
			return fmt.Errorf("profile with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate profile name: %s", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("profile %s: dimensions must be positive, got %dx%d", p.Name, p.Width, p.Height)
		}
		if p.VideoBitrate <= 0 || p.AudioBitrate <= 0 {
			return fmt.Errorf("profile %s: bitrates must be positive", p.Name)
		}
	}
	return nil
}

// Copy returns an independent copy of the ladder.
func (l Ladder) Copy() Ladder {
	out := make(Ladder, len(l))
	copy(out, l)
	return out
}

// Get returns the named profile, or false if it is not in the ladder.
func (l Ladder) Get(name string) (Profile, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// SortByBandwidth returns a copy ordered by descending total bandwidth.
// Ties break by name ascending so manifest ordering is deterministic.
func (l Ladder) SortByBandwidth() Ladder {
	out := l.Copy()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Bandwidth() != out[j].Bandwidth() {
			return out[i].Bandwidth() > out[j].Bandwidth()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FitToSource drops profiles that would upscale a source of the given
// dimensions. If nothing fits, the smallest profile is kept so tiny
// sources still produce one rendition.
func (l Ladder) FitToSource(width, height int) Ladder {
	if width <= 0 || height <= 0 {
		return l.Copy()
	}
	var out Ladder
	for _, p := range l {
		if p.Width <= width && p.Height <= height {
			out = append(out, p)
		}
	}
	if len(out) == 0 && len(l) > 0 {
		smallest := l[0]
		for _, p := range l[1:] {
			if p.Width < smallest.Width {
				smallest = p
			}
		}
		out = Ladder{smallest}
	}
	return out
}

// Parse builds a ladder from a CLI override spec: a comma-separated list
// where each entry is either a default profile name ("720p,480p") or a full
// custom profile "name:WxH:videoBps:audioBps".
func Parse(spec string) (Ladder, error) {
	if strings.TrimSpace(spec) == "" {
		return Default(), nil
	}

	defaults := Default()
	var out Ladder
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, ":") {
			p, ok := defaults.Get(entry)
			if !ok {
				return nil, fmt.Errorf("unknown profile name: %s", entry)
			}
			out = append(out, p)
			continue
		}
		p, err := parseCustom(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseCustom(entry string) (Profile, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 4 {
		return Profile{}, fmt.Errorf("invalid profile spec %q (want name:WxH:video:audio)", entry)
	}

	dims := strings.SplitN(parts[1], "x", 2)
	if len(dims) != 2 {
		return Profile{}, fmt.Errorf("invalid resolution in %q", entry)
	}
	width, err := strconv.Atoi(dims[0])
	if err != nil {
		return Profile{}, fmt.Errorf("invalid width in %q: %w", entry, err)
	}
	height, err := strconv.Atoi(dims[1])
	if err != nil {
		return Profile{}, fmt.Errorf("invalid height in %q: %w", entry, err)
	}

	video, err := parseBitrate(parts[2])
	if err != nil {
		return Profile{}, fmt.Errorf("invalid video bitrate in %q: %w", entry, err)
	}
	audio, err := parseBitrate(parts[3])
	if err != nil {
		return Profile{}, fmt.Errorf("invalid audio bitrate in %q: %w", entry, err)
	}

	return Profile{
		Name:         parts[0],
		Width:        width,
		Height:       height,
		VideoBitrate: video,
		AudioBitrate: audio,
		Preset:       "medium",
		CRF:          23,
	}, nil
}

// parseBitrate accepts plain bits per second or ffmpeg-style suffixes
// ("5M", "800k").
func parseBitrate(s string) (int, error) {
	s = strings.TrimSpace(s)
	mult := 1
	switch {
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult = 1_000_000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult = 1_000
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("bitrate must be positive")
	}
	return int(n * float64(mult)), nil
}
