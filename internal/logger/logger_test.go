package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// capture points the global logger at a buffer so tests can inspect output.
func capture() *bytes.Buffer {
	var buf bytes.Buffer
	Log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: &level}))
	return &buf
}

func TestJobTransitionAttrs(t *testing.T) {
	Init("info")
	buf := capture()

	// Log the way the scheduler logs a state transition and check the
	// attributes survive into the text output.
	Info("Job state changed", "job_id", "a1b2c3", "state", "running", "attempts", 1)

	out := buf.String()
	for _, want := range []string{"job_id=a1b2c3", "state=running", "attempts=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestSetLevelAtRuntime(t *testing.T) {
	Init("info")
	buf := capture()

	Debug("rendition complete")
	if buf.Len() > 0 {
		t.Error("debug message should not appear at info level")
	}

	SetLevel("debug")
	buf.Reset()
	Debug("rendition complete", "profile", "720p")
	if !strings.Contains(buf.String(), "profile=720p") {
		t.Error("debug message should appear after SetLevel(debug)")
	}

	SetLevel("error")
	buf.Reset()
	Warn("rendition failed")
	if buf.Len() > 0 {
		t.Error("warn message should not appear at error level")
	}
	Error("publish failed", "error", "rename")
	if buf.Len() == 0 {
		t.Error("error message should appear at error level")
	}
}

func TestSetLevelInvalidFallsBackToInfo(t *testing.T) {
	Init("debug")
	SetLevel("garbage")
	buf := capture()

	Debug("hidden")
	if buf.Len() > 0 {
		t.Error("invalid level should fall back to info, hiding debug")
	}
	Info("visible")
	if buf.Len() == 0 {
		t.Error("info should be visible at info level")
	}
}

func TestUninitializedLoggerIsSafe(t *testing.T) {
	old := Log
	defer func() { Log = old }()
	Log = nil

	// Library packages log before main calls Init in some test setups;
	// the helpers must tolerate that.
	Debug("d")
	Info("i", "job_id", "x")
	Warn("w")
	Error("e")
}
