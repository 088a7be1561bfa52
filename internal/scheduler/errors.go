package scheduler

import (
	"errors"
	"fmt"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/manifest"
)

// Sentinel errors for scheduler operations.
// These can be checked with errors.Is().
var (
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotQueued      = errors.New("job is not queued")
)

// unsupportedFormatError returns a wrapped error for a rejected source.
func unsupportedFormatError(path string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// jobNotFoundError returns a wrapped error for a missing job.
func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// isTransient reports whether a job failure is worth retrying. Permanent
// encode errors and manifest validation errors fail the same way on every
// attempt; everything else (timeouts, resource pressure, publish races) is
// assumed recoverable.
func isTransient(err error) bool {
	var encErr *encoder.EncodeError
	if errors.As(err, &encErr) {
		return encErr.Kind.Transient()
	}
	if errors.Is(err, manifest.ErrEmptyInventorySet) ||
		errors.Is(err, manifest.ErrInconsistentSegmentCount) {
		return false
	}
	return true
}

// errorKind extracts a stable kind label for status reporting.
func errorKind(err error) string {
	var encErr *encoder.EncodeError
	switch {
	case errors.As(err, &encErr):
		return string(encErr.Kind)
	case errors.Is(err, manifest.ErrEmptyInventorySet):
		return "empty_inventory_set"
	case errors.Is(err, manifest.ErrInconsistentSegmentCount):
		return "inconsistent_segment_count"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	default:
		return "write_failure"
	}
}
