package analysis

import (
	"encoding/json"
	"time"

	"soundnerd/internal/features"
	"soundnerd/internal/logging"
)

// extractorPayload mirrors the extractor's result object. Fields absent in
// Safe mode simply stay zero.
type extractorPayload struct {
	Error string `json:"error,omitempty"`

	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`

	BPM           float64 `json:"bpm"`
	BPMConfidence float64 `json:"bpm_confidence"`
	Danceability  float64 `json:"danceability"`

	Key   string `json:"key"`
	Scale string `json:"scale"`

	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	SpectralFlatness float64 `json:"spectral_flatness"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	RMSEnergy        float64 `json:"rms_energy"`

	LoudnessLUFS float64 `json:"loudness_lufs"`
	Brightness   float64 `json:"brightness"`
	Warmth       float64 `json:"warmth"`
	Hardness     float64 `json:"hardness"`

	IsOneShot            bool    `json:"is_one_shot"`
	IsLoop               bool    `json:"is_loop"`
	SampleTypeConfidence float64 `json:"sample_type_confidence"`

	Embedding   []float32 `json:"embedding,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`

	SuggestedTags []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
		Category   string  `json:"category,omitempty"`
	} `json:"suggested_tags,omitempty"`
}

// MapResult converts a raw extractor payload into the canonical feature
// record. A payload carrying an error field maps to an AnalysisErr even
// when the process exited cleanly.
func MapResult(sampleID string, raw *RawResult, mode Mode) (*features.AudioFeatureRecord, error) {
	var p extractorPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, &ProtocolError{Line: truncate(string(raw.Payload), 200), Err: err}
	}
	if p.Error != "" {
		return nil, &AnalysisErr{Mode: mode, Message: p.Error}
	}

	source := features.SourceStandard
	if mode == ModeSafe {
		source = features.SourceSafe
	}

	now := time.Now().UTC()
	rec := &features.AudioFeatureRecord{
		SampleID: sampleID,

		DurationSec: p.Duration,
		SampleRate:  p.SampleRate,
		Channels:    p.Channels,

		BPM:           p.BPM,
		BPMConfidence: p.BPMConfidence,
		Danceability:  p.Danceability,

		KeyName:  p.Key,
		KeyScale: p.Scale,

		SpectralCentroid: p.SpectralCentroid,
		SpectralRolloff:  p.SpectralRolloff,
		SpectralFlatness: p.SpectralFlatness,
		ZeroCrossingRate: p.ZeroCrossingRate,
		RMSEnergy:        p.RMSEnergy,

		LoudnessLUFS: p.LoudnessLUFS,
		Brightness:   p.Brightness,
		Warmth:       p.Warmth,
		Hardness:     p.Hardness,

		IsOneShot:            p.IsOneShot,
		IsLoop:               p.IsLoop,
		SampleTypeConfidence: p.SampleTypeConfidence,

		Embedding:   p.Embedding,
		Fingerprint: p.Fingerprint,

		AnalysisDurationMs: raw.Elapsed.Milliseconds(),
		Source:             source,

		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, t := range p.SuggestedTags {
		rec.Tags = append(rec.Tags, features.SuggestedTag{
			Name:       t.Name,
			Confidence: t.Confidence,
			Category:   t.Category,
		})
	}

	logging.AnalysisDebug("mapped result for %s: bpm=%.1f key=%s %s tags=%d source=%s",
		sampleID, rec.BPM, rec.KeyName, rec.KeyScale, len(rec.Tags), rec.Source)
	return rec, nil
}
