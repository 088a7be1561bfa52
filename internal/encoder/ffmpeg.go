package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gwlsn/streampack/internal/ladder"
	"github.com/gwlsn/streampack/internal/logger"
)

// FFmpeg runs ffmpeg once per rendition to produce an HLS segment stream.
type FFmpeg struct {
	ffmpegPath string
}

// NewFFmpeg creates an FFmpeg encoder using the given binary path.
func NewFFmpeg(ffmpegPath string) *FFmpeg {
	return &FFmpeg{ffmpegPath: ffmpegPath}
}

// PlaylistName is the media playlist filename every rendition encode writes.
const PlaylistName = "playlist.m3u8"

// Encode transcodes one rendition into outputDir as fixed-duration MPEG-TS
// segments plus a media playlist, then reads the playlist back into a
// SegmentInventory.
func (f *FFmpeg) Encode(ctx context.Context, sourcePath string, profile ladder.Profile, segmentDuration float64, outputDir string) (*SegmentInventory, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, &EncodeError{Kind: KindSourceUnreadable, Profile: profile.Name, Err: err}
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, &EncodeError{Kind: KindInsufficientResources, Profile: profile.Name, Err: err}
	}

	playlistPath := filepath.Join(outputDir, PlaylistName)
	segmentPattern := filepath.Join(outputDir, "segment_%03d.ts")

	preset := profile.Preset
	if preset == "" {
		preset = "medium"
	}
	crf := profile.CRF
	if crf == 0 {
		crf = 23
	}

	args := []string{
		"-i", sourcePath,
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", strconv.Itoa(crf),
		"-c:a", "aac",
		"-b:v", strconv.Itoa(profile.VideoBitrate),
		"-b:a", strconv.Itoa(profile.AudioBitrate),
		"-vf", fmt.Sprintf("scale=%d:%d", profile.Width, profile.Height),
		"-f", "hls",
		"-hls_time", strconv.FormatFloat(segmentDuration, 'f', -1, 64),
		"-hls_list_size", "0",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", segmentPattern,
		"-y", playlistPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("FFmpeg command", "profile", profile.Name, "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		tail := stderrTail(stderr.String())
		return nil, &EncodeError{
			Kind:    Classify(ctx, err, tail),
			Profile: profile.Name,
			Stderr:  tail,
			Err:     err,
		}
	}

	inv, err := ReadInventory(playlistPath, profile.Name, segmentDuration, profile.Bandwidth())
	if err != nil {
		return nil, &EncodeError{Kind: KindUnknown, Profile: profile.Name, Err: err}
	}
	return inv, nil
}

// stderrTail keeps the last chunk of ffmpeg stderr; the useful error is
// always at the end.
func stderrTail(s string) string {
	const max = 1000
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
