// Package encoder wraps the external media encoder. The scheduler treats it
// as a black box: one call per rendition, producing fixed-duration segments
// plus a SegmentInventory index.
package encoder

import (
	"context"

	"github.com/gwlsn/streampack/internal/ladder"
)

// Encoder produces segmented media output for one rendition of a source.
type Encoder interface {
	// Encode transcodes sourcePath into segments for the given profile,
	// writing them under outputDir, and returns the resulting inventory.
	// Failures are reported as *EncodeError.
	Encode(ctx context.Context, sourcePath string, profile ladder.Profile, segmentDuration float64, outputDir string) (*SegmentInventory, error)
}

// SourceInfo is the probed metadata the scheduler needs before encoding.
type SourceInfo struct {
	Path     string
	Width    int
	Height   int
	Duration float64 // seconds
}

// Prober inspects a source file ahead of encoding.
type Prober interface {
	// Probe returns source metadata, or an *EncodeError with kind
	// SourceUnreadable when the file cannot be inspected.
	Probe(ctx context.Context, path string) (*SourceInfo, error)
}
