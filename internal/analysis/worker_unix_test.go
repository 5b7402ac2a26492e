//go:build !windows

package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoWorker is a fake worker: readiness line, then one result per request.
const echoWorker = `
echo '{"status":"ready"}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":"\([^"]*\)".*/\1/')
  printf '{"id":"%s","result":{"duration":2.0,"bpm":120}}\n' "$id"
done`

func TestWorkerAnalyze(t *testing.T) {
	bin := writeScript(t, echoWorker)

	p := NewWorkerPool(bin, 2, 10*time.Second, 10*time.Second)
	defer p.Shutdown()

	raw, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")
	require.NoError(t, err)
	assert.JSONEq(t, `{"duration":2.0,"bpm":120}`, string(raw.Payload))

	// The handle is reused across requests.
	first := p.workers[ModeStandard]
	_, err = p.Analyze(context.Background(), ModeStandard, "/tmp/b.wav", "full", "b.wav")
	require.NoError(t, err)
	assert.Same(t, first, p.workers[ModeStandard])
}

// delayedWorker answers requests for "slow" paths after a delay and
// everything else immediately, so completions can invert submission order.
const delayedWorker = `
echo '{"status":"ready"}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":"\([^"]*\)".*/\1/')
  case "$line" in
    *slow*) ( sleep 0.5; printf '{"id":"%s","result":{"bpm":111}}\n' "$id" ) & ;;
    *)      printf '{"id":"%s","result":{"bpm":222}}\n' "$id" ;;
  esac
done`

func TestWorkerOutOfOrderMultiplex(t *testing.T) {
	bin := writeScript(t, delayedWorker)

	p := NewWorkerPool(bin, 2, 10*time.Second, 10*time.Second)
	defer p.Shutdown()

	order := make(chan string, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		raw, err := p.Analyze(context.Background(), ModeStandard, "/tmp/slow.wav", "full", "slow.wav")
		assert.NoError(t, err)
		assert.JSONEq(t, `{"bpm":111}`, string(raw.Payload))
		order <- "slow"
	}()

	// Make sure the slow request is submitted first.
	time.Sleep(100 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		raw, err := p.Analyze(context.Background(), ModeStandard, "/tmp/fast.wav", "full", "fast.wav")
		assert.NoError(t, err)
		assert.JSONEq(t, `{"bpm":222}`, string(raw.Payload))
		order <- "fast"
	}()
	wg.Wait()

	// Correlation by ID, not FIFO completion: the later submission
	// finished first, and each caller got its own payload.
	assert.Equal(t, "fast", <-order)
	assert.Equal(t, "slow", <-order)

	// Both replies went through one handle, whose pending map drained.
	h := p.workers[ModeStandard]
	assert.False(t, h.Destroyed())
	h.mu.Lock()
	assert.Empty(t, h.pending)
	h.mu.Unlock()
}

func TestWorkerCancelOneRequestLeavesOthersPending(t *testing.T) {
	bin := writeScript(t, delayedWorker)

	p := NewWorkerPool(bin, 2, 10*time.Second, 10*time.Second)
	defer p.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := p.Analyze(ctx, ModeStandard, "/tmp/slow_a.wav", "full", "slow_a.wav")
		cancelled <- err
	}()

	survived := make(chan error, 1)
	go func() {
		raw, err := p.Analyze(context.Background(), ModeStandard, "/tmp/slow_b.wav", "full", "slow_b.wav")
		if err == nil {
			assert.JSONEq(t, `{"bpm":111}`, string(raw.Payload))
		}
		survived <- err
	}()

	// Wait until both requests are in flight on the same handle.
	require.Eventually(t, func() bool {
		p.mu.Lock()
		h, ok := p.workers[ModeStandard]
		p.mu.Unlock()
		if !ok {
			return false
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.pending) == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.True(t, IsCancelled(<-cancelled))

	// Cancelling one request abandons only its own correlation ID.
	require.NoError(t, <-survived)
	assert.False(t, p.workers[ModeStandard].Destroyed())
}

func TestWorkerErrorResponse(t *testing.T) {
	bin := writeScript(t, `
echo '{"status":"ready"}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":"\([^"]*\)".*/\1/')
  printf '{"id":"%s","error":"decode failed"}\n' "$id"
done`)

	p := NewWorkerPool(bin, 2, 10*time.Second, 10*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")

	var aerr *AnalysisErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "decode failed", aerr.Message)
}

func TestWorkerReadinessTimeout(t *testing.T) {
	bin := writeScript(t, `sleep 30`)

	p := NewWorkerPool(bin, 2, 200*time.Millisecond, 10*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")

	var pf *ProcessFailureError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.TimedOut)
}

func TestWorkerRequestTimeoutKeepsWorker(t *testing.T) {
	// Ready, but never answers.
	bin := writeScript(t, `
echo '{"status":"ready"}'
while read line; do :; done`)

	p := NewWorkerPool(bin, 2, 10*time.Second, 200*time.Millisecond)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")

	var pf *ProcessFailureError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.TimedOut)

	// Only the request failed; the worker process is still live.
	assert.False(t, p.workers[ModeStandard].Destroyed())
}

func TestWorkerExitRejectsPending(t *testing.T) {
	// Ready, then dies on the first request.
	bin := writeScript(t, `
echo '{"status":"ready"}'
read line
exit 0`)

	p := NewWorkerPool(bin, 2, 10*time.Second, 30*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")

	var pf *ProcessFailureError
	require.ErrorAs(t, err, &pf)
	assert.False(t, pf.TimedOut, "death must reject pending requests, not wait for the timeout")
}

func TestWorkerGraceKillDisarmedAfterExit(t *testing.T) {
	// Ready, then dies on the first request.
	bin := writeScript(t, `
echo '{"status":"ready"}'
read line
exit 0`)

	p := NewWorkerPool(bin, 2, 10*time.Second, 30*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")
	require.Error(t, err)

	p.mu.Lock()
	h := p.workers[ModeStandard]
	p.mu.Unlock()
	require.NotNil(t, h)

	<-h.exited

	// Once the process has been reaped the force-kill timer must be gone;
	// firing it later would signal a pid that may have been reused.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.graceKill == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerLazyRecreateAfterExit(t *testing.T) {
	bin := writeScript(t, echoWorker)

	p := NewWorkerPool(bin, 2, 10*time.Second, 10*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")
	require.NoError(t, err)

	first := p.workers[ModeStandard]
	first.destroy("test-induced")

	// The next request transparently creates a fresh handle.
	_, err = p.Analyze(context.Background(), ModeStandard, "/tmp/b.wav", "full", "b.wav")
	require.NoError(t, err)
	assert.NotSame(t, first, p.workers[ModeStandard])
}

func TestWorkerModeSwitchDestroysOther(t *testing.T) {
	bin := writeScript(t, echoWorker)

	p := NewWorkerPool(bin, 2, 10*time.Second, 10*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")
	require.NoError(t, err)
	standard := p.workers[ModeStandard]

	_, err = p.Analyze(context.Background(), ModeSafe, "/tmp/a.wav", "basic", "a.wav")
	require.NoError(t, err)

	assert.True(t, standard.Destroyed(), "mode switch must tear down the other mode's worker")
	p.mu.Lock()
	_, stillTracked := p.workers[ModeStandard]
	p.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestWorkerProtocolErrorDestroysHandle(t *testing.T) {
	// Ready, then garbage.
	bin := writeScript(t, `
echo '{"status":"ready"}'
read line
echo 'this is not json'
while read line; do :; done`)

	p := NewWorkerPool(bin, 2, 10*time.Second, 30*time.Second)
	defer p.Shutdown()

	_, err := p.Analyze(context.Background(), ModeStandard, "/tmp/a.wav", "full", "a.wav")

	var pf *ProcessFailureError
	require.ErrorAs(t, err, &pf)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		h, ok := p.workers[ModeStandard]
		return !ok || h.Destroyed()
	}, 5*time.Second, 10*time.Millisecond)
}
