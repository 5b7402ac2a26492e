package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"soundnerd/internal/logging"
)

// RawResult carries the extractor's JSON payload plus timing for one
// successful execution, before mapping to a feature record.
type RawResult struct {
	Payload json.RawMessage
	Elapsed time.Duration
}

// OneShotRunner spawns a fresh extractor process per request. Used for every
// Safe-mode attempt and for Standard mode when no persistent worker is
// configured.
//
// Signal-based termination of the native stack is unreliable across
// platforms, so the runner arms its own timer and force-kills the process
// tree on expiry instead of trusting exec.CommandContext.
type OneShotRunner struct {
	binary    string
	threadCap int
	timeout   time.Duration
}

// NewOneShotRunner creates a runner for the given extractor binary.
func NewOneShotRunner(binary string, threadCap int, timeout time.Duration) *OneShotRunner {
	return &OneShotRunner{binary: binary, threadCap: threadCap, timeout: timeout}
}

// Run executes one analysis. Exit classification:
//
//	exit 0 + parseable JSON      -> success
//	killed by timeout or signal  -> ProcessFailureError (retryable)
//	non-zero + JSON error payload -> AnalysisErr (semantic, not retryable)
//	could not start               -> SpawnError
//	anything else                 -> unknown error
func (r *OneShotRunner) Run(ctx context.Context, path, level, filenameHint string, mode Mode) (*RawResult, error) {
	timer := logging.StartTimer(logging.CategoryOneShot, "one-shot analysis")
	defer timer.StopWithThreshold(30 * time.Second)

	args := []string{path, "--level", level}
	if filenameHint != "" {
		args = append(args, "--filename", filenameHint)
	}

	cmd := exec.Command(r.binary, args...)
	cmd.Env = modeEnvironment(mode, r.threadCap)
	setupProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.OneShot("spawning %s mode=%s level=%s file=%s", r.binary, mode, level, path)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Binary: r.binary, Err: err}
	}

	// Manual timeout: force-kill the whole tree rather than relying on a
	// termination signal reaching the native children.
	var timedOut, cancelled atomic.Bool
	kill := time.AfterFunc(r.timeout, func() {
		timedOut.Store(true)
		killProcessTree(cmd)
	})
	defer kill.Stop()

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			killProcessTree(cmd)
		case <-watchDone:
		}
	}()

	err := cmd.Wait()
	close(watchDone)
	kill.Stop()
	elapsed := time.Since(start)

	if cancelled.Load() && ctx.Err() != nil {
		logging.OneShotDebug("run cancelled after %v", elapsed)
		return nil, fmt.Errorf("analysis cancelled: %w", ctx.Err())
	}

	payload, cerr := classifyExit(mode, err, timedOut.Load(), stdout.String(), FilterBanners(stderr.String()))
	if cerr != nil {
		return nil, cerr
	}

	logging.OneShot("run succeeded in %v (mode=%s)", elapsed, mode)
	return &RawResult{Payload: payload, Elapsed: elapsed}, nil
}

// classifyExit maps a finished process to the error taxonomy. A clean exit
// with a parseable payload is a success even when the timeout timer fired
// while the process was being reaped; the timer only wins when it actually
// killed the process.
func classifyExit(mode Mode, waitErr error, timedOut bool, stdout, filtered string) (json.RawMessage, error) {
	if waitErr == nil {
		payload := ExtractJSONObject(stdout)
		if payload == nil {
			return nil, fmt.Errorf("extractor produced no JSON output (mode=%s): %s", mode, truncate(filtered, 500))
		}
		if msg, ok := decodeErrorPayload(payload); ok {
			return nil, &AnalysisErr{Mode: mode, Message: msg}
		}
		return payload, nil
	}

	if timedOut {
		logging.OneShotWarn("run timed out (mode=%s)", mode)
		return nil, &ProcessFailureError{Mode: mode, TimedOut: true, Reason: truncate(filtered, 500)}
	}

	if sig, fatal := exitSignal(waitErr); fatal {
		logging.OneShotError("extractor killed by %s (mode=%s): %s", sig, mode, truncate(filtered, 500))
		return nil, &ProcessFailureError{Mode: mode, Signal: sig, Reason: truncate(filtered, 500)}
	}

	// Non-zero exit: a parseable JSON error payload is a semantic analysis
	// error, not a process failure.
	if payload := ExtractJSONObject(stdout); payload != nil {
		if msg, ok := decodeErrorPayload(payload); ok {
			return nil, &AnalysisErr{Mode: mode, Message: msg}
		}
	}
	return nil, fmt.Errorf("extractor exited abnormally (mode=%s): %v: %s", mode, waitErr, truncate(filtered, 500))
}

// decodeErrorPayload extracts {"error": "..."} from a payload, if present.
func decodeErrorPayload(payload json.RawMessage) (string, bool) {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	return probe.Error, probe.Error != ""
}
