package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"soundnerd/internal/logging"
)

// workerGracePeriod is how long a worker gets to exit after a graceful
// terminate before the tree is force-killed.
const workerGracePeriod = 5 * time.Second

// workerRequest is one line on the worker's stdin.
type workerRequest struct {
	ID        string `json:"id"`
	Cmd       string `json:"cmd"`
	AudioPath string `json:"audio_path"`
	Level     string `json:"level"`
	Filename  string `json:"filename"`
}

// workerLine is one line on the worker's stdout: either the readiness
// announcement or a correlated response.
type workerLine struct {
	Status string          `json:"status,omitempty"`
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type workerReply struct {
	result json.RawMessage
	err    error
}

// WorkerHandle owns one long-lived extractor process for a mode. Concurrent
// logical requests are multiplexed onto it by correlation ID. The handle is
// destroyed on process exit, protocol error, or mode change; destruction
// rejects every still-pending request.
type WorkerHandle struct {
	mode  Mode
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex
	pending   map[string]chan workerReply
	destroyed bool
	graceKill *time.Timer // armed by destroy while the process is still live, nil once reaped

	ready  chan struct{} // closed once the readiness line arrives
	done   chan struct{} // closed when the handle is destroyed
	exited chan struct{} // closed once cmd.Wait has reaped the process
}

// Destroyed reports whether this handle has been torn down.
func (h *WorkerHandle) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// destroy tears the handle down: every pending request is rejected, the
// process is asked to terminate gracefully and force-killed after a grace
// period. Idempotent.
func (h *WorkerHandle) destroy(reason string) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	pending := h.pending
	h.pending = make(map[string]chan workerReply)
	h.mu.Unlock()

	logging.Worker("destroying %s worker: %s (rejecting %d pending)", h.mode, reason, len(pending))

	for _, ch := range pending {
		ch <- workerReply{err: &ProcessFailureError{Mode: h.mode, Reason: "worker destroyed"}}
	}

	close(h.done)

	if h.stdin != nil {
		_ = h.stdin.Close()
	}

	select {
	case <-h.exited:
		// Already reaped; signaling the dead pid risks hitting a reused one.
	default:
		terminateGracefully(h.cmd)
		timer := time.AfterFunc(workerGracePeriod, func() { killProcessTree(h.cmd) })
		h.mu.Lock()
		h.graceKill = timer
		h.mu.Unlock()
		go func() {
			<-h.exited
			timer.Stop()
			h.mu.Lock()
			h.graceKill = nil
			h.mu.Unlock()
		}()
	}
}

// readLoop consumes the worker's stdout, completing the readiness handshake
// and dispatching correlated responses. Any malformed line is worker-fatal.
func (h *WorkerHandle) readLoop(stdout io.Reader) {
	dec := NewLineDecoder(stdout)
	ready := false
	for {
		line, err := dec.Next()
		if err != nil {
			h.destroy(fmt.Sprintf("stdout closed: %v", err))
			return
		}
		if !ready && isBannerLine(string(line)) {
			continue
		}

		var msg workerLine
		if err := DecodeLine(line, &msg); err != nil {
			logging.WorkerError("%v", err)
			h.destroy("protocol error")
			return
		}

		if msg.Status == "ready" {
			if !ready {
				ready = true
				close(h.ready)
				logging.Worker("%s worker ready", h.mode)
			}
			continue
		}

		if msg.ID == "" {
			logging.WorkerError("uncorrelated line: %s", truncate(string(line), 200))
			h.destroy("uncorrelated response")
			return
		}

		h.mu.Lock()
		ch, ok := h.pending[msg.ID]
		if ok {
			delete(h.pending, msg.ID)
		}
		h.mu.Unlock()

		if !ok {
			// Late reply for a request that already timed out or was
			// cancelled; drop it.
			logging.WorkerDebug("dropping reply for unknown id %s", msg.ID)
			continue
		}

		if msg.Error != "" {
			ch <- workerReply{err: &AnalysisErr{Mode: h.mode, Message: msg.Error}}
		} else {
			ch <- workerReply{result: msg.Result}
		}
	}
}

// drainStderr logs non-banner stderr output.
func (h *WorkerHandle) drainStderr(stderr io.Reader) {
	dec := NewLineDecoder(stderr)
	for {
		line, err := dec.Next()
		if err != nil {
			return
		}
		if !isBannerLine(string(line)) {
			logging.WorkerWarn("[stderr] %s", truncate(string(line), 300))
		}
	}
}

// WorkerPool spawns and reuses one WorkerHandle per mode. Crashed or stale
// handles are detected lazily; the next request creates a fresh one. A
// second caller requesting a mode while its handle is still initializing
// waits for that initialization instead of spawning a duplicate.
type WorkerPool struct {
	binary         string
	threadCap      int
	readyTimeout   time.Duration
	requestTimeout time.Duration

	mu      sync.Mutex
	workers map[Mode]*WorkerHandle
}

// NewWorkerPool creates a pool for the given extractor binary.
func NewWorkerPool(binary string, threadCap int, readyTimeout, requestTimeout time.Duration) *WorkerPool {
	return &WorkerPool{
		binary:         binary,
		threadCap:      threadCap,
		readyTimeout:   readyTimeout,
		requestTimeout: requestTimeout,
		workers:        make(map[Mode]*WorkerHandle),
	}
}

// getOrCreate returns the live handle for mode, spawning one if needed.
// Switching mode destroys the other mode's worker first.
func (p *WorkerPool) getOrCreate(mode Mode) (*WorkerHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Mode change tears down workers of every other mode.
	for m, h := range p.workers {
		if m != mode && !h.Destroyed() {
			h.destroy("mode change")
		}
		if h.Destroyed() {
			delete(p.workers, m)
		}
	}

	if h, ok := p.workers[mode]; ok && !h.Destroyed() {
		return h, nil
	}

	h, err := p.spawn(mode)
	if err != nil {
		return nil, err
	}
	p.workers[mode] = h
	return h, nil
}

// spawn starts a fresh worker process for mode. Caller holds p.mu.
func (p *WorkerPool) spawn(mode Mode) (*WorkerHandle, error) {
	cmd := exec.Command(p.binary, "--worker")
	cmd.Env = modeEnvironment(mode, p.threadCap)
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Binary: p.binary, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Binary: p.binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Binary: p.binary, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Binary: p.binary, Err: err}
	}

	h := &WorkerHandle{
		mode:    mode,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[string]chan workerReply),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	logging.Worker("spawned %s worker pid=%d", mode, cmd.Process.Pid)

	go h.readLoop(stdout)
	go h.drainStderr(stderr)
	go func() {
		// Reap the process; its exit destroys the handle so pending
		// requests are rejected rather than left hanging.
		err := cmd.Wait()
		close(h.exited)
		h.destroy(fmt.Sprintf("process exited: %v", err))
	}()

	return h, nil
}

// Analyze sends one request through the mode's worker and waits for its
// correlated response. A per-request timeout fails only this request; the
// worker stays up unless its process actually exits.
func (p *WorkerPool) Analyze(ctx context.Context, mode Mode, path, level, filename string) (*RawResult, error) {
	h, err := p.getOrCreate(mode)
	if err != nil {
		return nil, err
	}

	// Readiness handshake. Timing out here fails worker creation.
	select {
	case <-h.ready:
	case <-h.done:
		return nil, &ProcessFailureError{Mode: mode, Reason: "worker exited before ready"}
	case <-time.After(p.readyTimeout):
		h.destroy("readiness timeout")
		return nil, &ProcessFailureError{Mode: mode, TimedOut: true, Reason: "worker readiness timeout"}
	case <-ctx.Done():
		return nil, fmt.Errorf("analysis cancelled: %w", ctx.Err())
	}

	id := uuid.NewString()
	reqLog := logging.WithRequestID(logging.CategoryWorker, id)

	ch := make(chan workerReply, 1)
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil, &ProcessFailureError{Mode: mode, Reason: "worker destroyed"}
	}
	h.pending[id] = ch

	data, err := json.Marshal(workerRequest{
		ID:        id,
		Cmd:       "analyze",
		AudioPath: path,
		Level:     level,
		Filename:  filename,
	})
	if err != nil {
		delete(h.pending, id)
		h.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal worker request: %w", err)
	}
	if _, err := h.stdin.Write(append(data, '\n')); err != nil {
		delete(h.pending, id)
		h.mu.Unlock()
		return nil, &ProcessFailureError{Mode: mode, Reason: fmt.Sprintf("stdin write failed: %v", err)}
	}
	h.mu.Unlock()

	reqLog.Debug("request sent file=%s level=%s", path, level)
	start := time.Now()

	// The request timeout does not kill the worker; only this request
	// fails. Cancellation likewise abandons just this correlation ID.
	timeout := time.NewTimer(p.requestTimeout)
	defer timeout.Stop()

	select {
	case reply := <-ch:
		if reply.err != nil {
			reqLog.Warn("request failed: %v", reply.err)
			return nil, reply.err
		}
		elapsed := time.Since(start)
		reqLog.Debug("request completed in %v", elapsed)
		return &RawResult{Payload: reply.result, Elapsed: elapsed}, nil
	case <-timeout.C:
		h.forget(id)
		reqLog.Warn("request timed out after %v", p.requestTimeout)
		return nil, &ProcessFailureError{Mode: mode, TimedOut: true, Reason: "worker request timeout"}
	case <-h.done:
		return nil, &ProcessFailureError{Mode: mode, Reason: "worker destroyed"}
	case <-ctx.Done():
		h.forget(id)
		return nil, fmt.Errorf("analysis cancelled: %w", ctx.Err())
	}
}

// forget abandons a pending correlation ID.
func (h *WorkerHandle) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// Shutdown destroys every live worker.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for m, h := range p.workers {
		h.destroy("shutdown")
		delete(p.workers, m)
	}
}
