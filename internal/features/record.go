// Package features defines the canonical feature record produced by audio
// analysis, independent of which path (worker, one-shot, bypass, fallback)
// produced it.
package features

import "time"

// AnalysisSource identifies which path produced a record.
type AnalysisSource string

const (
	SourceStandard AnalysisSource = "standard"
	SourceSafe     AnalysisSource = "safe"
	SourceBypass   AnalysisSource = "bypass"
	SourceFallback AnalysisSource = "fallback"
)

// SuggestedTag is a tag candidate emitted by the extractor's models.
type SuggestedTag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category,omitempty"`
}

// AudioFeatureRecord is the canonical output of an analysis. A sample has at
// most one persisted record; re-analysis overwrites every field except
// CreatedAt.
type AudioFeatureRecord struct {
	SampleID string `json:"sample_id"`

	// Container-level metadata
	DurationSec float64 `json:"duration_sec"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`

	// Rhythm
	BPM           float64 `json:"bpm"`
	BPMConfidence float64 `json:"bpm_confidence"`
	Danceability  float64 `json:"danceability"`

	// Tonal
	KeyName  string `json:"key_name"`
	KeyScale string `json:"key_scale"`

	// Spectral / timbral
	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	SpectralFlatness float64 `json:"spectral_flatness"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	RMSEnergy        float64 `json:"rms_energy"`

	// Perceptual
	LoudnessLUFS float64 `json:"loudness_lufs"`
	Brightness   float64 `json:"brightness"`
	Warmth       float64 `json:"warmth"`
	Hardness     float64 `json:"hardness"`

	// Sample type classification
	IsOneShot            bool    `json:"is_one_shot"`
	IsLoop               bool    `json:"is_loop"`
	SampleTypeConfidence float64 `json:"sample_type_confidence"`

	// Optional payloads
	Embedding   []float32      `json:"embedding,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Tags        []SuggestedTag `json:"suggested_tags,omitempty"`

	AnalysisDurationMs int64          `json:"analysis_duration_ms"`
	Source             AnalysisSource `json:"analysis_source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Degraded reports whether this record came from a path that skipped the
// full native analysis.
func (r *AudioFeatureRecord) Degraded() bool {
	return r.Source == SourceBypass || r.Source == SourceFallback
}

// TagNames returns the names of the suggested tags in order.
func (r *AudioFeatureRecord) TagNames() []string {
	names := make([]string, 0, len(r.Tags))
	for _, t := range r.Tags {
		names = append(names, t.Name)
	}
	return names
}
