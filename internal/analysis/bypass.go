package analysis

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"time"

	"soundnerd/internal/features"
	"soundnerd/internal/logging"
)

// Lossy container families whose producer-embedded tempo tags are trusted
// enough to skip the full native analysis.
var lossyExtensions = map[string]bool{
	".mp3": true,
	".aac": true,
	".m4a": true,
}

// MetadataBypass short-circuits analysis for lossy files carrying an
// embedded tempo tag. Bypass runs before slot acquisition: it never
// consumes analysis concurrency.
type MetadataBypass struct {
	prober *Prober
}

// NewMetadataBypass creates a bypass backed by the given prober.
func NewMetadataBypass(prober *Prober) *MetadataBypass {
	return &MetadataBypass{prober: prober}
}

// Try returns a synthesized record when path is a lossy file with a usable
// embedded tempo, or nil when the request must go through full analysis.
// A probe failure is never fatal here; it just disables the bypass.
func (b *MetadataBypass) Try(ctx context.Context, sampleID, path string) *features.AudioFeatureRecord {
	ext := strings.ToLower(filepath.Ext(path))
	if !lossyExtensions[ext] {
		return nil
	}

	probe, err := b.prober.Probe(ctx, path)
	if err != nil {
		logging.BypassDebug("probe failed for %s, falling through to analysis: %v", path, err)
		return nil
	}

	bpm := probe.EmbeddedBPM
	if bpm <= 0 || math.IsInf(bpm, 0) || math.IsNaN(bpm) {
		return nil
	}

	logging.Bypass("using embedded tempo %.1f for %s, skipping extraction", bpm, path)

	now := time.Now().UTC()
	return &features.AudioFeatureRecord{
		SampleID:      sampleID,
		DurationSec:   probe.DurationSec,
		SampleRate:    probe.SampleRate,
		Channels:      probe.Channels,
		BPM:           bpm,
		BPMConfidence: 1.0,
		Source:        features.SourceBypass,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
