package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBypassSkipsLosslessFiles(t *testing.T) {
	// Lossless extensions never bypass, so the prober must not even run
	// (the binary here does not exist).
	b := NewMetadataBypass(NewProber("ffprobe-does-not-exist", time.Second))

	for _, path := range []string{"/tmp/a.wav", "/tmp/a.flac", "/tmp/a.aiff", "/tmp/a"} {
		assert.Nil(t, b.Try(context.Background(), "s", path), path)
	}
}

func TestBypassProbeFailureFallsThrough(t *testing.T) {
	// A lossy extension with an unprobeable file falls through to full
	// analysis instead of failing the request.
	b := NewMetadataBypass(NewProber("ffprobe-does-not-exist", time.Second))
	assert.Nil(t, b.Try(context.Background(), "s", "/tmp/a.mp3"))
}

func TestTagBPM(t *testing.T) {
	cases := []struct {
		name string
		tags map[string]string
		want float64
	}{
		{"upper TBPM", map[string]string{"TBPM": "128"}, 128},
		{"lower bpm", map[string]string{"bpm": "95.5"}, 95.5},
		{"whitespace", map[string]string{"TBPM": " 120 "}, 120},
		{"zero rejected", map[string]string{"TBPM": "0"}, 0},
		{"negative rejected", map[string]string{"BPM": "-10"}, 0},
		{"absurd rejected", map[string]string{"BPM": "12000"}, 0},
		{"garbage rejected", map[string]string{"TBPM": "fast"}, 0},
		{"unrelated tags", map[string]string{"artist": "someone"}, 0},
		{"nil map", nil, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tagBPM(tc.tags))
		})
	}
}
