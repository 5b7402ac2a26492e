package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundnerd/internal/features"
)

func openTestStore(t *testing.T) *FeatureStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() *features.AudioFeatureRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &features.AudioFeatureRecord{
		SampleID:             "sample-1",
		DurationSec:          2.5,
		SampleRate:           44100,
		Channels:             2,
		BPM:                  128.5,
		BPMConfidence:        0.92,
		Danceability:         0.7,
		KeyName:              "A",
		KeyScale:             "minor",
		SpectralCentroid:     1250.25,
		SpectralRolloff:      8000.5,
		SpectralFlatness:     0.12,
		ZeroCrossingRate:     0.08,
		RMSEnergy:            0.31,
		LoudnessLUFS:         -14.2,
		Brightness:           0.6,
		Warmth:               0.4,
		Hardness:             0.55,
		IsOneShot:            false,
		IsLoop:               true,
		SampleTypeConfidence: 0.85,
		Embedding:            []float32{0.1, -0.2, 0.3},
		Fingerprint:          "AQAAbc",
		Tags: []features.SuggestedTag{
			{Name: "kick", Confidence: 0.9, Category: "instrument"},
		},
		AnalysisDurationMs: 1500,
		Source:             features.SourceStandard,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "sample-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Timestamps are store-managed; everything else must round-trip
	// exactly.
	diff := cmp.Diff(rec, got, cmpopts.IgnoreFields(features.AudioFeatureRecord{}, "CreatedAt", "UpdatedAt"))
	assert.Empty(t, diff)
}

func TestRoundTripEmptyOptionals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &features.AudioFeatureRecord{
		SampleID: "bare",
		Source:   features.SourceFallback,
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "bare")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Missing optional arrays come back empty, not null-ish surprises.
	assert.Empty(t, got.Embedding)
	assert.Empty(t, got.Tags)
	assert.Equal(t, features.SourceFallback, got.Source)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, s.Put(ctx, rec))

	first, err := s.Get(ctx, rec.SampleID)
	require.NoError(t, err)

	// Re-analysis overwrites every field except the creation timestamp.
	rec.BPM = 90
	rec.Source = features.SourceSafe
	rec.CreatedAt = time.Time{}
	require.NoError(t, s.Put(ctx, rec))

	second, err := s.Get(ctx, rec.SampleID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, second.BPM)
	assert.Equal(t, features.SourceSafe, second.Source)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "created_at must survive re-analysis")
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))

	// One record per sample, not one per analysis.
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListBySource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleRecord()
	a.SampleID = "a"
	b := sampleRecord()
	b.SampleID = "b"
	b.Source = features.SourceFallback
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	fallbacks, err := s.ListBySource(ctx, features.SourceFallback)
	require.NoError(t, err)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "b", fallbacks[0].SampleID)
}

func TestCountBySource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, source := range []features.AnalysisSource{
		features.SourceStandard, features.SourceStandard, features.SourceFallback,
	} {
		rec := sampleRecord()
		rec.SampleID = string(rune('a' + i))
		rec.Source = source
		require.NoError(t, s.Put(ctx, rec))
	}

	counts, err := s.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		string(features.SourceStandard): 2,
		string(features.SourceFallback): 1,
	}, counts)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord()))

	existed, err := s.Delete(ctx, "sample-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "sample-1")
	require.NoError(t, err)
	assert.False(t, existed)
}
