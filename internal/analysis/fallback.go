package analysis

import (
	"context"
	"strings"
	"time"

	"soundnerd/internal/features"
	"soundnerd/internal/logging"
)

// fallbackTypeConfidence marks filename-inferred sample types as weak, below
// any threshold that would let them outrank real analysis output.
const fallbackTypeConfidence = 0.3

var loopKeywords = []string{
	"loop", "beat", "groove", "break", "jam", "riff", "phrase", "progression",
}

var oneShotKeywords = []string{
	"one-shot", "oneshot", "one_shot", "hit", "single", "stab", "shot", "strike",
}

// FallbackSynthesizer produces a minimal placeholder record when both
// analysis modes have failed or the emergency window is open. The record
// keeps the sample usable (duration, a sample-type guess) without claiming
// any analysis actually ran.
type FallbackSynthesizer struct {
	prober *Prober
}

// NewFallbackSynthesizer creates a synthesizer backed by the given prober.
func NewFallbackSynthesizer(prober *Prober) *FallbackSynthesizer {
	return &FallbackSynthesizer{prober: prober}
}

// Synthesize builds the emergency record. Probing is best effort; on probe
// failure the duration fields stay zero.
func (f *FallbackSynthesizer) Synthesize(ctx context.Context, sampleID, path, filename string) *features.AudioFeatureRecord {
	logging.Fallback("synthesizing emergency record for %s", path)

	now := time.Now().UTC()
	rec := &features.AudioFeatureRecord{
		SampleID:  sampleID,
		Source:    features.SourceFallback,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if probe, err := f.prober.Probe(ctx, path); err == nil {
		rec.DurationSec = probe.DurationSec
		rec.SampleRate = probe.SampleRate
		rec.Channels = probe.Channels
	} else {
		logging.FallbackWarn("probe failed for %s, record keeps zero duration: %v", path, err)
	}

	rec.IsLoop, rec.IsOneShot = inferSampleType(filename)
	rec.SampleTypeConfidence = fallbackTypeConfidence

	return rec
}

// inferSampleType guesses loop vs one-shot from filename keywords. One-shot
// keywords win over loop keywords; with no match the guess is one-shot.
func inferSampleType(filename string) (isLoop, isOneShot bool) {
	name := strings.ToLower(filename)
	for _, kw := range oneShotKeywords {
		if strings.Contains(name, kw) {
			return false, true
		}
	}
	for _, kw := range loopKeywords {
		if strings.Contains(name, kw) {
			return true, false
		}
	}
	return false, true
}
