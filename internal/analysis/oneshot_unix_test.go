//go:build !windows

package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates a fake extractor executable for process-level tests.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extractor.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestOneShotSuccess(t *testing.T) {
	bin := writeScript(t, `
echo 'Using TensorFlow backend.'
echo '{"duration": 1.5, "bpm": 120}'`)

	r := NewOneShotRunner(bin, 2, 10*time.Second)
	raw, err := r.Run(context.Background(), "/tmp/a.wav", "full", "a.wav", ModeStandard)
	require.NoError(t, err)
	assert.JSONEq(t, `{"duration": 1.5, "bpm": 120}`, string(raw.Payload))
	assert.Greater(t, raw.Elapsed, time.Duration(0))
}

func TestOneShotTimeout(t *testing.T) {
	bin := writeScript(t, `sleep 30`)

	r := NewOneShotRunner(bin, 2, 200*time.Millisecond)
	_, err := r.Run(context.Background(), "/tmp/a.wav", "full", "a.wav", ModeStandard)

	var pf *ProcessFailureError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.TimedOut)
	assert.True(t, pf.FatalCrash())
	assert.False(t, IsCancelled(err))
}

func TestOneShotFatalSignal(t *testing.T) {
	bin := writeScript(t, `kill -s SEGV $$`)

	r := NewOneShotRunner(bin, 2, 10*time.Second)
	_, err := r.Run(context.Background(), "/tmp/a.wav", "full", "a.wav", ModeStandard)

	var pf *ProcessFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "SIGSEGV", pf.Signal)
	assert.True(t, pf.FatalCrash())
}

func TestOneShotSemanticError(t *testing.T) {
	bin := writeScript(t, `
echo '{"error": "unsupported codec"}'
exit 1`)

	r := NewOneShotRunner(bin, 2, 10*time.Second)
	_, err := r.Run(context.Background(), "/tmp/a.wav", "full", "a.wav", ModeStandard)

	var aerr *AnalysisErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "unsupported codec", aerr.Message)
	assert.False(t, IsProcessFailure(err))
}

func TestOneShotSpawnError(t *testing.T) {
	r := NewOneShotRunner("/nonexistent/extractor", 2, time.Second)
	_, err := r.Run(context.Background(), "/tmp/a.wav", "full", "a.wav", ModeStandard)

	var serr *SpawnError
	require.ErrorAs(t, err, &serr)
}

func TestOneShotCancellation(t *testing.T) {
	bin := writeScript(t, `sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := NewOneShotRunner(bin, 2, 10*time.Second)
	start := time.Now()
	_, err := r.Run(ctx, "/tmp/a.wav", "full", "a.wav", ModeStandard)

	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.False(t, IsProcessFailure(err))
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must kill the process promptly")
}

func TestOneShotSafeModeEnvironment(t *testing.T) {
	// The script fails unless the Safe-mode flags are present.
	bin := writeScript(t, `
if [ "$EXTRACTOR_DISABLE_ML" = "1" ] && [ "$EXTRACTOR_DISABLE_DSP" = "1" ]; then
  echo '{"duration": 1.0}'
else
  exit 1
fi`)

	r := NewOneShotRunner(bin, 2, 10*time.Second)

	_, err := r.Run(context.Background(), "/tmp/a.wav", "full", "a.wav", ModeStandard)
	require.Error(t, err, "standard mode must not set the safe-mode flags")

	raw, err := r.Run(context.Background(), "/tmp/a.wav", "basic", "a.wav", ModeSafe)
	require.NoError(t, err)
	assert.NotNil(t, raw.Payload)
}
