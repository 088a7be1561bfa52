package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorKind classifies an encode failure for the scheduler's retry policy.
type ErrorKind string

const (
	KindSourceUnreadable      ErrorKind = "source_unreadable"
	KindUnsupportedCodec      ErrorKind = "unsupported_codec"
	KindInsufficientResources ErrorKind = "insufficient_resources"
	KindTimeout               ErrorKind = "timeout"
	KindUnknown               ErrorKind = "unknown"
)

// Transient reports whether a failure of this kind is worth retrying.
// Unreadable or undecodable sources will fail the same way every attempt.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindSourceUnreadable, KindUnsupportedCodec:
		return false
	default:
		return true
	}
}

// EncodeError is a rendition encode failure with enough context for the
// scheduler to decide whether to retry.
type EncodeError struct {
	Kind    ErrorKind
	Profile string
	Stderr  string // trailing ffmpeg stderr, for diagnostics
	Err     error
}

func (e *EncodeError) Error() string {
	if e.Profile != "" {
		return fmt.Sprintf("encode %s: %s: %v", e.Profile, e.Kind, e.Err)
	}
	return fmt.Sprintf("encode: %s: %v", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Classify maps a raw encoder failure to an ErrorKind using the context
// state and the ffmpeg stderr tail.
func Classify(ctx context.Context, err error, stderr string) ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ENOSPC) {
		return KindInsufficientResources
	}

	low := strings.ToLower(stderr)
	switch {
	case strings.Contains(low, "no such file"),
		strings.Contains(low, "permission denied"),
		strings.Contains(low, "invalid data found"),
		strings.Contains(low, "moov atom not found"),
		strings.Contains(low, "end of file"):
		return KindSourceUnreadable
	case strings.Contains(low, "decoder not found"),
		strings.Contains(low, "unknown codec"),
		strings.Contains(low, "unsupported codec"):
		return KindUnsupportedCodec
	case strings.Contains(low, "no space left"),
		strings.Contains(low, "cannot allocate memory"):
		return KindInsufficientResources
	default:
		return KindUnknown
	}
}
