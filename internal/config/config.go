package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwlsn/streampack/internal/ladder"
)

// Duration is a time.Duration that unmarshals from yaml strings like "30s"
// or "5m" as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// WatchPath is the intake directory observed for new video files
	WatchPath string `yaml:"watch_path"`

	// OutputRoot is where published output trees land (default "output")
	OutputRoot string `yaml:"output_root"`

	// SegmentDuration is the target segment length in seconds (default 6, valid 2-30)
	SegmentDuration float64 `yaml:"segment_duration"`

	// Workers is the number of concurrent jobs (default: CPU count, clamped)
	Workers int `yaml:"workers"`

	// EncodeSlots bounds concurrent encoder invocations across all workers
	// (default: CPU count, clamped)
	EncodeSlots int `yaml:"encode_slots"`

	// MaxAttempts is how many times a transiently failing job is tried (default 3)
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBaseDelay is the first retry backoff (default 5s); each further
	// retry doubles it up to RetryMaxDelay (default 5m)
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay"`

	// EncodeTimeout bounds a single rendition encode (default 30m)
	EncodeTimeout Duration `yaml:"encode_timeout"`

	// KeepFailedRenditions leaves the staging tree in place when a job fails,
	// for inspection (default false)
	KeepFailedRenditions bool `yaml:"keep_failed_renditions"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// LogLevel is one of debug, info, warn, error (default info)
	LogLevel string `yaml:"log_level"`

	// HistoryDB is the SQLite job history path; empty keeps history in memory only
	HistoryDB string `yaml:"history_db"`

	// Ladder overrides the default rendition ladder when non-empty
	Ladder ladder.Ladder `yaml:"ladder"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		WatchPath:       "intake",
		OutputRoot:      "output",
		SegmentDuration: 6,
		Workers:         0, // resolved to CPU count by the pool
		EncodeSlots:     0,
		MaxAttempts:     3,
		RetryBaseDelay:  Duration(5 * time.Second),
		RetryMaxDelay:   Duration(5 * time.Minute),
		EncodeTimeout:   Duration(30 * time.Minute),
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		LogLevel:        "info",
		HistoryDB:       "",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Apply defaults for empty values
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "output"
	}
	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = 6
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = Duration(5 * time.Second)
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = Duration(5 * time.Minute)
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = Duration(30 * time.Minute)
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values outside the ranges the pipeline supports.
func (c *Config) Validate() error {
	if c.SegmentDuration < 2 || c.SegmentDuration > 30 {
		return fmt.Errorf("segment_duration %.1f out of range (2-30 seconds)", c.SegmentDuration)
	}
	if len(c.Ladder) > 0 {
		if err := c.Ladder.Validate(); err != nil {
			return fmt.Errorf("invalid ladder: %w", err)
		}
	}
	return nil
}

// EffectiveLadder returns the configured ladder, or the default one.
func (c *Config) EffectiveLadder() ladder.Ladder {
	if len(c.Ladder) > 0 {
		return c.Ladder.Copy()
	}
	return ladder.Default()
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
