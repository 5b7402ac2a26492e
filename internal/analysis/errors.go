package analysis

import (
	"context"
	"errors"
	"fmt"
)

// The error taxonomy mirrors how the extractor can let us down:
//
//   - Cancelled: caller-initiated, never retried.
//   - ProcessFailureError: signal/timeout/OOM, retryable by mode escalation.
//   - AnalysisErr: the extractor ran to completion but reported a semantic
//     error; retrying the same input cannot help.
//   - ProtocolError: malformed or uncorrelated worker output; fatal for the
//     worker handle, which is destroyed and lazily recreated.
//   - SpawnError: the process could not be started at all.

// ProcessFailureError indicates the external process died abnormally:
// killed by a fatal native signal, killed by our timeout, or reaped
// before producing a response.
type ProcessFailureError struct {
	Mode     Mode
	Signal   string // fatal signal name, empty if not signaled
	TimedOut bool
	Reason   string // free-form detail ("worker destroyed", stderr tail, ...)
}

func (e *ProcessFailureError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s analysis process timed out", e.Mode)
	case e.Signal != "":
		return fmt.Sprintf("%s analysis process killed by %s", e.Mode, e.Signal)
	case e.Reason != "":
		return fmt.Sprintf("%s analysis process failed: %s", e.Mode, e.Reason)
	default:
		return fmt.Sprintf("%s analysis process failed", e.Mode)
	}
}

// FatalCrash reports whether this failure should arm the safe-mode cooldown:
// a fatal native signal or an internally-managed timeout.
func (e *ProcessFailureError) FatalCrash() bool {
	return e.TimedOut || e.Signal != ""
}

// AnalysisErr indicates the extractor completed but reported a semantic
// error for this input. Not retryable.
type AnalysisErr struct {
	Mode    Mode
	Message string
}

func (e *AnalysisErr) Error() string {
	return fmt.Sprintf("analysis error (%s): %s", e.Mode, e.Message)
}

// ProtocolError indicates a malformed or uncorrelated line on the worker
// protocol. Destroys the worker handle.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker protocol error: %v (line: %s)", e.Err, truncate(e.Line, 200))
	}
	return fmt.Sprintf("worker protocol error (line: %s)", truncate(e.Line, 200))
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SpawnError indicates the external process could not be started.
// A configuration-level failure, not retried.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsProcessFailure reports whether err is (or wraps) a ProcessFailureError.
func IsProcessFailure(err error) bool {
	var pf *ProcessFailureError
	return errors.As(err, &pf)
}

// IsCancelled reports whether err represents caller-initiated cancellation.
// Internal timeouts are ProcessFailureError, never Cancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
