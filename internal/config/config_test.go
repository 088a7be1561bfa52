package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/streampack/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.OutputRoot != "output" {
		t.Errorf("expected default output root, got %s", cfg.OutputRoot)
	}
	if cfg.SegmentDuration != 6 {
		t.Errorf("expected default segment duration 6, got %.1f", cfg.SegmentDuration)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryBaseDelay.Std() != 5*time.Second {
		t.Errorf("expected default retry base delay 5s, got %v", cfg.RetryBaseDelay)
	}
	if len(cfg.EffectiveLadder()) != 5 {
		t.Errorf("expected the default 5-rung ladder, got %d", len(cfg.EffectiveLadder()))
	}
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
watch_path: /srv/intake
output_root: /srv/streams
segment_duration: 4
workers: 2
max_attempts: 5
encode_timeout: 1h
keep_failed_renditions: true
ladder:
  - name: 720p
    width: 1280
    height: 720
    video_bitrate: 3000000
    audio_bitrate: 128000
  - name: 360p
    width: 640
    height: 360
    video_bitrate: 800000
    audio_bitrate: 96000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.WatchPath != "/srv/intake" {
		t.Errorf("expected watch path /srv/intake, got %s", cfg.WatchPath)
	}
	if cfg.SegmentDuration != 4 {
		t.Errorf("expected segment duration 4, got %.1f", cfg.SegmentDuration)
	}
	if cfg.EncodeTimeout.Std() != time.Hour {
		t.Errorf("expected encode timeout 1h, got %v", cfg.EncodeTimeout)
	}
	if !cfg.KeepFailedRenditions {
		t.Error("expected keep_failed_renditions true")
	}
	if len(cfg.Ladder) != 2 || cfg.Ladder[0].Name != "720p" {
		t.Errorf("ladder override not applied: %+v", cfg.Ladder)
	}
	// Unset values still pick up defaults
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("expected default ffmpeg path, got %s", cfg.FFmpegPath)
	}
}

func TestLoadRejectsBadSegmentDuration(t *testing.T) {
	for _, dur := range []string{"1", "31"} {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("segment_duration: "+dur+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := config.Load(path); err == nil {
			t.Errorf("segment_duration %s should be rejected", dur)
		}
	}
}

func TestLoadRejectsBadLadder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ladder:
  - name: 720p
    width: 1280
    height: 720
    video_bitrate: 0
    audio_bitrate: 128000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("ladder with zero video bitrate should be rejected")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := config.DefaultConfig()
	cfg.WatchPath = "/srv/intake"
	cfg.SegmentDuration = 8

	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.WatchPath != cfg.WatchPath {
		t.Errorf("expected watch path %s, got %s", cfg.WatchPath, loaded.WatchPath)
	}
	if loaded.SegmentDuration != 8 {
		t.Errorf("expected segment duration 8, got %.1f", loaded.SegmentDuration)
	}
}
