package buildlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedLog marks a log that cannot be trusted as a source of desired state.
var ErrMalformedLog = errors.New("buildlog: malformed log")

// Order selects how records are sequenced before tags are evaluated.
type Order string

const (
	OrderLog       Order = "log"
	OrderTimestamp Order = "timestamp"
)

// ParseOrder accepts "log", "timestamp" or empty (log).
func ParseOrder(raw string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OrderLog:
		return OrderLog, nil
	case OrderTimestamp:
		return OrderTimestamp, nil
	default:
		return "", fmt.Errorf("unknown record order %q (want log|timestamp)", raw)
	}
}

// Record is one immutable build log entry.
type Record struct {
	// Index is the zero-based position in the original log.
	Index     int
	Digest    string
	Tags      []string
	Version   string
	Timestamp time.Time
}

// HasTimestamp reports whether the log carried a timestamp for the record.
func (r Record) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// Options controls parsing strictness and ordering.
type Options struct {
	// ValidateDigests requires every digest to be a well-formed content digest.
	ValidateDigests bool
	// SkipInvalid logs and drops invalid records instead of failing the log.
	SkipInvalid bool
	Order       Order
}

type recordError struct {
	index  int
	reason string
}

func (e *recordError) Error() string {
	return fmt.Sprintf("record[%d]: %s", e.index, e.reason)
}

func malformed(index int, format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrMalformedLog, &recordError{index: index, reason: fmt.Sprintf(format, args...)})
}
