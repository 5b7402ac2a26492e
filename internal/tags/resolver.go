package tags

import (
	"context"
	"path/filepath"
	"strings"

	"soundnerd/internal/features"
	"soundnerd/internal/logging"
)

// Confidence thresholds. These interact: the congruence floor can drop a
// low-confidence candidate that the ordering rules would otherwise have
// placed first, and a congruence rescue can reintroduce a tag the generic
// short-circuit suppressed. Changing any of them requires re-deriving the
// resolution scenarios in the resolver tests.
const (
	// congruenceFloor: candidates with a known confidence below this are
	// kept only when corroborated by direct text matching against the
	// sample name or folder path.
	congruenceFloor = 0.6
	// genericShortCircuitBound: the generic-name short-circuit applies
	// only while model confidence is absent or below this.
	genericShortCircuitBound = 0.65
	// lowModelConfidence: below this, filename evidence is consulted
	// before model output when ordering candidates.
	lowModelConfidence = 0.72

	// unknownConfidence marks candidates whose source reports no
	// confidence; they are exempt from the congruence floor.
	unknownConfidence = -1
)

// Origin identifies where a tag candidate came from.
type Origin string

const (
	OriginModel    Origin = "model"
	OriginFilename Origin = "filename"
	OriginFolder   Origin = "folder"
	OriginPrevious Origin = "previous"
	OriginPathHint Origin = "path-hint"
)

// Candidate is one tag suggestion entering resolution.
type Candidate struct {
	Name       string
	Confidence float64 // unknownConfidence when the source reports none
	Origin     Origin
}

// Input carries everything known about a sample at resolution time.
type Input struct {
	SampleName string
	FolderPath string

	Model           []Candidate
	ModelConfidence float64 // overall model confidence, 0 when absent

	Filename []Candidate
	Previous []string

	// InstrumentHint is derived from the user's own folder structure and
	// outranks every other source.
	InstrumentHint string
}

// Resolver merges tag evidence into at most one instrument tag. When the
// deterministic pipeline yields nothing it consults the AI reviewer, then a
// local ordering fallback.
type Resolver struct {
	maxTags  int
	reviewer *Reviewer // nil when AI review is unavailable
}

// NewResolver creates a resolver. reviewer may be nil.
func NewResolver(maxTags int, reviewer *Reviewer) *Resolver {
	if maxTags < 1 {
		maxTags = 1
	}
	return &Resolver{maxTags: maxTags, reviewer: reviewer}
}

// ResolveTags runs the deterministic pipeline, then the AI and local
// fallbacks if it produced nothing. Resolution is pure with respect to its
// input: the same Input always yields the same output.
func (r *Resolver) ResolveTags(ctx context.Context, in Input) []ReviewedTag {
	if out := r.resolveDeterministic(in); len(out) > 0 {
		return out
	}

	if r.reviewer != nil {
		if out := r.reviewer.Review(ctx, in, r.maxTags); len(out) > 0 {
			logging.Tags("AI reviewer resolved %s -> %v", in.SampleName, tagNames(out))
			return out
		}
	}

	return r.localFallback(in)
}

// resolveDeterministic is the seven-step deterministic pipeline.
func (r *Resolver) resolveDeterministic(in Input) []ReviewedTag {
	// Generic-name short-circuit: a placeholder name with no corroborating
	// evidence gets a single conservative tag instead of an unstable guess.
	if isGenericName(in.SampleName) &&
		len(congruentTags(in.FolderPath)) == 0 &&
		len(in.Filename) == 0 &&
		in.InstrumentHint == "" &&
		in.ModelConfidence < genericShortCircuitBound {
		logging.TagsDebug("generic name %q with no evidence, tagging ambience", in.SampleName)
		return []ReviewedTag{{Name: "ambience", Category: CategoryInstrument}}
	}

	candidates := orderCandidates(in)

	// Vocabulary membership plus the congruence floor for weak candidates.
	var survivors []Candidate
	for _, c := range candidates {
		name, ok := canonical(c.Name)
		if !ok {
			continue
		}
		if c.Confidence != unknownConfidence && c.Confidence < congruenceFloor &&
			c.Origin != OriginPathHint && c.Origin != OriginPrevious &&
			!isCongruent(name, in.SampleName, in.FolderPath) {
			logging.TagsDebug("dropping uncorroborated low-confidence %s tag %q", c.Origin, name)
			continue
		}
		survivors = append(survivors, Candidate{Name: name, Confidence: c.Confidence, Origin: c.Origin})
	}

	// Congruence rescue: direct text matching as the last deterministic
	// source when everything else was filtered out.
	if len(survivors) == 0 {
		for _, name := range congruentTags(in.SampleName, in.FolderPath) {
			survivors = append(survivors, Candidate{Name: name, Confidence: unknownConfidence, Origin: OriginFolder})
		}
	}

	return finalize(survivors, r.maxTags)
}

// orderCandidates builds the four-source candidate list. The path-derived
// hint always comes first; low or absent model confidence puts filename
// evidence ahead of model output; previous tags come last for carry-over
// stability.
func orderCandidates(in Input) []Candidate {
	var out []Candidate
	if in.InstrumentHint != "" {
		out = append(out, Candidate{Name: in.InstrumentHint, Confidence: 1.0, Origin: OriginPathHint})
	}
	if in.ModelConfidence < lowModelConfidence {
		out = append(out, in.Filename...)
		out = append(out, in.Model...)
	} else {
		out = append(out, in.Model...)
		out = append(out, in.Filename...)
	}
	for _, p := range in.Previous {
		out = append(out, Candidate{Name: p, Confidence: unknownConfidence, Origin: OriginPrevious})
	}
	return out
}

// finalize enforces the single-instrument rule, deduplicates, and truncates.
// Among multiple instrument tags, the one with the best priority rank wins;
// rank ties keep the earliest candidate.
func finalize(survivors []Candidate, maxTags int) []ReviewedTag {
	if len(survivors) == 0 {
		return nil
	}

	best := survivors[0].Name
	for _, c := range survivors[1:] {
		if rankOf(c.Name) < rankOf(best) {
			best = c.Name
		}
	}

	out := []ReviewedTag{{Name: best, Category: CategoryInstrument}}
	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}

// localFallback is the non-AI last resort: model, then filename, then
// previous tags, still subject to vocabulary membership and the
// single-instrument rule.
func (r *Resolver) localFallback(in Input) []ReviewedTag {
	var survivors []Candidate
	for _, group := range [][]Candidate{in.Model, in.Filename} {
		for _, c := range group {
			if name, ok := canonical(c.Name); ok {
				survivors = append(survivors, Candidate{Name: name, Confidence: c.Confidence, Origin: c.Origin})
			}
		}
	}
	for _, p := range in.Previous {
		if name, ok := canonical(p); ok {
			survivors = append(survivors, Candidate{Name: name, Confidence: unknownConfidence, Origin: OriginPrevious})
		}
	}
	return finalize(survivors, r.maxTags)
}

// Resolve adapts the resolver to the orchestration layer: it derives the
// resolution input from a completed feature record and its filename, and
// returns the result in record form.
func (r *Resolver) Resolve(ctx context.Context, filename string, rec *features.AudioFeatureRecord) []features.SuggestedTag {
	in := Input{
		SampleName: strings.TrimSuffix(filename, filepath.Ext(filename)),
	}

	for _, t := range rec.Tags {
		in.Model = append(in.Model, Candidate{Name: t.Name, Confidence: t.Confidence, Origin: OriginModel})
		if t.Confidence > in.ModelConfidence {
			in.ModelConfidence = t.Confidence
		}
	}
	for _, name := range congruentTags(in.SampleName) {
		in.Filename = append(in.Filename, Candidate{Name: name, Confidence: 0.8, Origin: OriginFilename})
	}

	resolved := r.ResolveTags(ctx, in)
	out := make([]features.SuggestedTag, 0, len(resolved))
	for _, t := range resolved {
		out = append(out, features.SuggestedTag{Name: t.Name, Confidence: 1.0, Category: t.Category})
	}
	return out
}

func tagNames(tags []ReviewedTag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}
