// Shared error taxonomy.
//
// The distinction that matters throughout the system is between conditions that are *expected* when
// rummaging through a partially-populated data store (a period file that was never written, a
// provider that has no record of a job) and conditions that indicate the installation is broken (a
// template that can't be expanded, a chain entry naming no registered provider).  The former are
// recorded as gaps and reported alongside partial results; the latter propagate immediately.

package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// MT: Constant after initialization; immutable
	ErrFileAbsent    = errors.New("Period file absent")
	ErrDatasetAbsent = errors.New("Dataset absent from period file")
	ErrNoData        = errors.New("No data")
	ErrNotFound      = errors.New("Provider chain exhausted")
	ErrCancelled     = errors.New("Operation cancelled")
)

// ConfigError indicates a misconfiguration: a template or chain entry that cannot be resolved.
// Always fatal, never recorded as a gap.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "Configuration error: " + e.Detail
}

func Configuration(format string, args ...any) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

func IsConfiguration(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// CorruptDataError indicates a period file whose contents violate structural invariants (wrong
// shape, non-monotonic timestamps).  Non-fatal under default query mode, fatal under strict mode.
type CorruptDataError struct {
	Path   string
	Detail string
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("Corrupt data in %s: %s", e.Path, e.Detail)
}

func Corrupt(path, format string, args ...any) *CorruptDataError {
	return &CorruptDataError{Path: path, Detail: fmt.Sprintf(format, args...)}
}

func IsCorrupt(err error) bool {
	var ce *CorruptDataError
	return errors.As(err, &ce)
}

// IncompleteDataError is returned by strict-mode series queries that encountered any gap.  The
// missing ranges are described in the same terms as the gap list of a non-strict result.
type IncompleteDataError struct {
	Detail string
}

func (e *IncompleteDataError) Error() string {
	return "Incomplete data: " + e.Detail
}

func Incomplete(format string, args ...any) *IncompleteDataError {
	return &IncompleteDataError{Detail: fmt.Sprintf(format, args...)}
}

func IsIncomplete(err error) bool {
	var ie *IncompleteDataError
	return errors.As(err, &ie)
}

// Cancellation wraps a context error in ErrCancelled so that callers can distinguish
// caller-requested aborts from data conditions with a single errors.Is test.  Non-context errors
// pass through unchanged.
func Cancellation(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}
