package scheduler

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
)

// State represents the current state of a job
type State string

const (
	StateQueued            State = "queued"
	StateRunning           State = "running"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
	StateFailedPermanently State = "failed_permanently"
)

// Job represents one packaging job: a source file converted into a full
// HLS/DASH output tree across the ladder snapshot taken at submission.
type Job struct {
	ID              string        `json:"id"`
	SourcePath      string        `json:"source_path"`
	OutputRoot      string        `json:"output_root"`
	Ladder          ladder.Ladder `json:"ladder"` // snapshot, immutable for this job
	SegmentDuration float64       `json:"segment_duration"`
	State           State         `json:"state"`
	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	Renditions      int           `json:"renditions,omitempty"` // produced on success
	Segments        int           `json:"segments,omitempty"`   // per rendition, on success

	// Inventories holds per-profile encode results while the job is in
	// flight; discarded on failure so no partial ladder survives.
	Inventories map[string]*encoder.SegmentInventory `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	NotBefore   time.Time `json:"not_before,omitempty"` // retry backoff gate
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.State == StateSucceeded || j.State == StateFailedPermanently
}

// Copy returns a shallow snapshot safe to hand to callers.
func (j *Job) Copy() *Job {
	c := *j
	return &c
}

// Event is a job state-change notification for subscribers.
type Event struct {
	Type string `json:"type"` // "submitted", "started", "succeeded", "failed", "requeued", "failed_permanently"
	Job  *Job   `json:"job"`
}

// supportedExtensions is the intake format set; anything else is rejected
// at submission.
var supportedExtensions = map[string]struct{}{
	".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {},
	".wmv": {}, ".flv": {}, ".webm": {}, ".m4v": {},
}

// SupportedSource reports whether the path has a supported video extension.
func SupportedSource(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
