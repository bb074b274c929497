// Package coreerr defines the typed error kinds the core runtime surfaces
// to operators (scheduler, rate limiter, dispatcher), and their mapping to
// conventional Unix exit codes for operator wrappers.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies a core error for programmatic handling and exit-code mapping.
type Kind int

const (
	// InvalidInput covers malformed cron expressions, zero/negative intervals,
	// empty chat ids, and unknown chat actions.
	InvalidInput Kind = iota
	// NotFound covers an unknown task id on remove/enable/disable/run_once.
	NotFound
	// DurabilityFailure covers a task-store write that failed to persist.
	DurabilityFailure
	// ApiFailure covers a BotApi call that returned an error or timed out at the network layer.
	ApiFailure
	// Timeout covers a task execution that exceeded its per-task timeout.
	Timeout
	// ShutdownInProgress covers new work rejected after shutdown has begun.
	ShutdownInProgress
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case NotFound:
		return "NotFound"
	case DurabilityFailure:
		return "DurabilityFailure"
	case ApiFailure:
		return "ApiFailure"
	case Timeout:
		return "Timeout"
	case ShutdownInProgress:
		return "ShutdownInProgress"
	default:
		return "Unknown"
	}
}

// Unix exit codes per spec: 0 success; 64 usage; 65 data; 74 I/O; 78 config; 70 internal.
const (
	ExitOK           = 0
	ExitUsage        = 64
	ExitDataErr      = 65
	ExitConfig       = 78
	ExitIOErr        = 74
	ExitSoftware     = 70 // internal/unexpected
)

// ExitCode maps a Kind to the conventional exit code an operator wrapper should use.
func (k Kind) ExitCode() int {
	switch k {
	case InvalidInput:
		return ExitUsage
	case NotFound:
		return ExitDataErr
	case DurabilityFailure:
		return ExitIOErr
	case ApiFailure, Timeout, ShutdownInProgress:
		return ExitSoftware
	default:
		return ExitSoftware
	}
}

// CoreError is a structured, human-readable error carrying a machine-checkable Kind.
type CoreError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// New builds a CoreError with no wrapped cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a CoreError, with ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

var (
	// ErrNotFound is a sentinel for unknown task ids; wrap with coreerr.Wrap(NotFound, ...) for context.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSchedule is a sentinel for unparseable cron expressions or non-positive intervals.
	ErrInvalidSchedule = errors.New("invalid schedule")
)
