package tags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundnerd/internal/features"
)

func resolve(t *testing.T, in Input) []ReviewedTag {
	t.Helper()
	return NewResolver(5, nil).ResolveTags(context.Background(), in)
}

func TestGenericNameShortCircuit(t *testing.T) {
	out := resolve(t, Input{SampleName: "Slice 3"})
	require.Len(t, out, 1)
	assert.Equal(t, ReviewedTag{Name: "ambience", Category: CategoryInstrument}, out[0])
}

func TestGenericNameWithEvidenceDoesNotShortCircuit(t *testing.T) {
	t.Run("folder evidence", func(t *testing.T) {
		out := resolve(t, Input{SampleName: "Slice 3", FolderPath: "Samples/Kicks/kick"})
		require.Len(t, out, 1)
		assert.Equal(t, "kick", out[0].Name)
	})

	t.Run("high model confidence", func(t *testing.T) {
		out := resolve(t, Input{
			SampleName:      "Sample_12",
			Model:           []Candidate{{Name: "snare", Confidence: 0.8, Origin: OriginModel}},
			ModelConfidence: 0.8,
		})
		require.Len(t, out, 1)
		assert.Equal(t, "snare", out[0].Name)
	})
}

func TestInstrumentHintOutranksEverything(t *testing.T) {
	out := resolve(t, Input{
		SampleName:      "my sample",
		InstrumentHint:  "kick",
		Model:           []Candidate{{Name: "snare", Confidence: 0.95, Origin: OriginModel}},
		ModelConfidence: 0.95,
		Filename:        []Candidate{{Name: "snare", Confidence: 0.95, Origin: OriginFilename}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, ReviewedTag{Name: "kick", Category: CategoryInstrument}, out[0])
}

func TestModelConfidenceFlipsOrdering(t *testing.T) {
	base := Input{
		SampleName: "unrelated_name",
		Model:      []Candidate{{Name: "percussion", Confidence: 0.9, Origin: OriginModel}},
		Filename:   []Candidate{{Name: "foley", Confidence: 0.9, Origin: OriginFilename}},
	}

	t.Run("high confidence keeps model first", func(t *testing.T) {
		in := base
		in.ModelConfidence = 0.9
		out := resolve(t, in)
		require.Len(t, out, 1)
		assert.Equal(t, "percussion", out[0].Name)
	})

	t.Run("low confidence defers to filename", func(t *testing.T) {
		in := base
		in.ModelConfidence = 0.55
		in.Model = []Candidate{{Name: "percussion", Confidence: 0.55, Origin: OriginModel}}
		out := resolve(t, in)
		require.Len(t, out, 1)
		assert.Equal(t, "foley", out[0].Name)
	})
}

func TestLowConfidenceCongruenceFilter(t *testing.T) {
	t.Run("uncorroborated weak tag dropped", func(t *testing.T) {
		out := resolve(t, Input{
			SampleName: "warm evening texture",
			Filename:   []Candidate{{Name: "kick", Confidence: 0.4, Origin: OriginFilename}},
		})
		// The weak kick is dropped; congruence rescue finds "texture".
		require.Len(t, out, 1)
		assert.Equal(t, "texture", out[0].Name)
	})

	t.Run("congruent weak tag kept", func(t *testing.T) {
		out := resolve(t, Input{
			SampleName: "deep_kick_03",
			Filename:   []Candidate{{Name: "kick", Confidence: 0.4, Origin: OriginFilename}},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "kick", out[0].Name)
	})
}

func TestCongruenceRescue(t *testing.T) {
	out := resolve(t, Input{
		SampleName: "dusty snare 99",
		Model:      []Candidate{{Name: "zzz-not-a-tag", Confidence: 0.9, Origin: OriginModel}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "snare", out[0].Name)
}

func TestSingleInstrumentPriority(t *testing.T) {
	out := resolve(t, Input{
		SampleName:      "drums",
		Model:           []Candidate{{Name: "cymbal", Confidence: 0.9, Origin: OriginModel}, {Name: "hihat", Confidence: 0.9, Origin: OriginModel}},
		ModelConfidence: 0.9,
	})
	require.Len(t, out, 1)
	assert.Equal(t, "hihat", out[0].Name, "hihat outranks cymbal in the priority order")
}

func TestAliasAndJunkNormalization(t *testing.T) {
	t.Run("aliases", func(t *testing.T) {
		for raw, want := range map[string]string{
			"Hi-Hat":   "hihat",
			"BD":       "kick",
			"Perc":     "percussion",
			"vox":      "vocal",
			"Kick_03":  "kick",
			"808":      "808",
			"sub_bass": "sub",
			"drones":   "drone",
			"textures": "texture",
		} {
			name, ok := canonical(raw)
			require.True(t, ok, raw)
			assert.Equal(t, want, name, raw)
		}
	})

	t.Run("junk dropped", func(t *testing.T) {
		for _, raw := range []string{"12345", "deadbeefcafe1234", "m0bcd94", "wav", "sample", "final", ""} {
			_, ok := canonical(raw)
			assert.False(t, ok, raw)
		}
	})
}

func TestPreviousTagsCarryOver(t *testing.T) {
	out := resolve(t, Input{
		SampleName: "mystery recording take two",
		Previous:   []string{"pad"},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "pad", out[0].Name)
}

func TestResolveIdempotent(t *testing.T) {
	in := Input{
		SampleName:      "deep_kick_03",
		FolderPath:      "Samples/Drums",
		Model:           []Candidate{{Name: "percussion", Confidence: 0.55, Origin: OriginModel}},
		ModelConfidence: 0.55,
		Filename:        []Candidate{{Name: "kick", Confidence: 0.9, Origin: OriginFilename}},
		Previous:        []string{"snare"},
	}

	first := resolve(t, in)
	second := resolve(t, in)
	assert.Equal(t, first, second, "resolution must be pure in its input")
}

func TestLocalFallbackOrdering(t *testing.T) {
	// The deterministic pipeline drops the weak uncorroborated model tag
	// and the rescue finds nothing; without an AI reviewer, the local
	// fallback keeps the model tag anyway.
	r := NewResolver(5, nil)
	out := r.ResolveTags(context.Background(), Input{
		SampleName:      "aurora borealis take",
		Model:           []Candidate{{Name: "kick", Confidence: 0.3, Origin: OriginModel}},
		ModelConfidence: 0.3,
	})
	require.Len(t, out, 1)
	assert.Equal(t, "kick", out[0].Name)
}

func TestRecordAdapter(t *testing.T) {
	rec := &features.AudioFeatureRecord{
		Tags: []features.SuggestedTag{{Name: "snare", Confidence: 0.9, Category: "instrument"}},
	}

	out := NewResolver(5, nil).Resolve(context.Background(), "deep_kick_03.wav", rec)
	require.Len(t, out, 1)
	// The filename-derived kick outranks the model's snare.
	assert.Equal(t, "kick", out[0].Name)
	assert.Equal(t, CategoryInstrument, out[0].Category)
}
