package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// FFprobe implements Prober using the ffprobe binary.
type FFprobe struct {
	ffprobePath string
}

// NewFFprobe creates a Prober using the given ffprobe path.
func NewFFprobe(ffprobePath string) *FFprobe {
	return &FFprobe{ffprobePath: ffprobePath}
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Probe returns source dimensions and duration. A file ffprobe cannot read,
// or one with no video stream, fails with KindSourceUnreadable since such
// sources will never encode.
func (p *FFprobe) Probe(ctx context.Context, path string) (*SourceInfo, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return nil, &EncodeError{Kind: KindSourceUnreadable, Stderr: stderr,
			Err: fmt.Errorf("ffprobe failed: %w", err)}
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, &EncodeError{Kind: KindSourceUnreadable,
			Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	info := &SourceInfo{Path: path}
	if parsed.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	}

	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			break
		}
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, &EncodeError{Kind: KindSourceUnreadable,
			Err: fmt.Errorf("no video stream in %s", path)}
	}

	return info, nil
}
