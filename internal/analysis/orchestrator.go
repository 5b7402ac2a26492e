package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"soundnerd/internal/config"
	"soundnerd/internal/features"
	"soundnerd/internal/logging"
)

// Request describes one analysis to perform.
type Request struct {
	SampleID string // defaults to a fresh UUID
	Path     string // audio file path, required
	Filename string // display name for filename-based hints, defaults to base of Path
	Level    string // extraction level passed to the extractor, defaults to "full"
}

// RecordSink receives completed records for persistence.
type RecordSink interface {
	Put(ctx context.Context, rec *features.AudioFeatureRecord) error
}

// TagResolver finalizes the tag set of a completed record.
type TagResolver interface {
	Resolve(ctx context.Context, filename string, rec *features.AudioFeatureRecord) []features.SuggestedTag
}

// Orchestrator runs the full analysis pipeline for one request: metadata
// bypass, slot admission, mode selection, extraction, escalation, tag
// resolution, persistence.
//
// Escalation ladder: a Standard-mode process failure arms the safe cooldown
// and retries once in Safe mode via a fresh one-shot process. A Safe-mode
// process failure arms the emergency cooldown and synthesizes a fallback
// record. Semantic analysis errors and caller cancellation never escalate.
type Orchestrator struct {
	admission *AdmissionController
	cooldown  *CooldownState
	pool      *WorkerPool
	oneshot   *OneShotRunner
	bypass    *MetadataBypass
	fallback  *FallbackSynthesizer

	useWorker         bool
	safeRetry         bool
	emergencyFallback bool

	sink     RecordSink  // optional
	resolver TagResolver // optional
}

// NewOrchestrator wires the pipeline from configuration.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	prober := NewProber(cfg.Analysis.FFprobeBinary, cfg.GetProbeTimeout())
	return &Orchestrator{
		admission: NewAdmissionController(cfg.Analysis.Concurrency),
		cooldown:  NewCooldownState(cfg.GetSafeCooldown(), cfg.GetEmergencyCooldown()),
		pool: NewWorkerPool(cfg.Analysis.ExtractorBinary, cfg.Analysis.NativeThreadCap,
			cfg.GetWorkerReadyTimeout(), cfg.GetWorkerRequestTimeout()),
		oneshot:  NewOneShotRunner(cfg.Analysis.ExtractorBinary, cfg.Analysis.NativeThreadCap, cfg.GetOneShotTimeout()),
		bypass:   NewMetadataBypass(prober),
		fallback: NewFallbackSynthesizer(prober),

		useWorker:         cfg.Analysis.UseWorker,
		safeRetry:         cfg.Analysis.SafeRetry,
		emergencyFallback: cfg.Analysis.EmergencyFallback,
	}
}

// SetSink registers a persistence sink for completed records.
func (o *Orchestrator) SetSink(sink RecordSink) { o.sink = sink }

// SetTagResolver registers a tag resolver applied to every analyzed record.
func (o *Orchestrator) SetTagResolver(r TagResolver) { o.resolver = r }

// Status returns a snapshot of the admission queue.
func (o *Orchestrator) Status() QueueStatus { return o.admission.Status() }

// Cooldown exposes the shared cooldown state.
func (o *Orchestrator) Cooldown() *CooldownState { return o.cooldown }

// Shutdown tears down persistent workers.
func (o *Orchestrator) Shutdown() { o.pool.Shutdown() }

// Analyze runs one request to completion.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*features.AudioFeatureRecord, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("analysis request requires a path")
	}
	if req.SampleID == "" {
		req.SampleID = uuid.NewString()
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(req.Path)
	}
	if req.Level == "" {
		req.Level = "full"
	}

	attemptLog := logging.WithRequestID(logging.CategoryAnalysis, req.SampleID)

	// The bypass never consumes an analysis slot.
	if rec := o.bypass.Try(ctx, req.SampleID, req.Path); rec != nil {
		return o.finish(ctx, req, rec)
	}

	if err := o.admission.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("analysis cancelled: %w", err)
	}
	defer o.admission.Release()

	mode, synthesize := o.cooldown.StartingMode()
	if synthesize && o.emergencyFallback {
		attemptLog.Warn("emergency window open, skipping extraction")
		return o.finish(ctx, req, o.fallback.Synthesize(ctx, req.SampleID, req.Path, req.Filename))
	}

	attemptLog.Info("starting analysis mode=%s file=%s", mode, req.Path)

	raw, err := o.attempt(ctx, req, mode)
	if err == nil {
		rec, mapErr := MapResult(req.SampleID, raw, mode)
		if mapErr != nil {
			return nil, mapErr
		}
		return o.finish(ctx, req, rec)
	}

	if IsCancelled(err) {
		return nil, err
	}
	var pf *ProcessFailureError
	if !errors.As(err, &pf) {
		// Semantic errors, spawn failures and protocol breakage do not
		// benefit from a Safe retry.
		return nil, err
	}

	if mode == ModeSafe {
		return o.handleSafeFailure(ctx, req, err)
	}

	// Standard-mode process failure: arm the cooldown on genuine crashes
	// and retry once in Safe mode via a fresh one-shot process.
	if pf.FatalCrash() {
		o.cooldown.ArmSafe()
	}
	if !o.safeRetry {
		return nil, err
	}

	attemptLog.Warn("standard analysis failed (%v), retrying in safe mode", err)
	raw, safeErr := o.oneshot.Run(ctx, req.Path, req.Level, req.Filename, ModeSafe)
	if safeErr == nil {
		rec, mapErr := MapResult(req.SampleID, raw, ModeSafe)
		if mapErr != nil {
			return nil, mapErr
		}
		return o.finish(ctx, req, rec)
	}
	if IsCancelled(safeErr) {
		return nil, safeErr
	}
	if IsProcessFailure(safeErr) {
		return o.handleSafeFailure(ctx, req, fmt.Errorf("standard: %v; safe: %v", err, safeErr))
	}
	return nil, fmt.Errorf("standard: %v; safe: %w", err, safeErr)
}

// handleSafeFailure is the bottom of the ladder: arm the emergency window
// and, when enabled, synthesize the placeholder record.
func (o *Orchestrator) handleSafeFailure(ctx context.Context, req Request, cause error) (*features.AudioFeatureRecord, error) {
	o.cooldown.ArmEmergency()
	if !o.emergencyFallback {
		return nil, cause
	}
	logging.AnalysisError("safe-mode analysis failed for %s, synthesizing fallback: %v", req.Path, cause)
	return o.finish(ctx, req, o.fallback.Synthesize(ctx, req.SampleID, req.Path, req.Filename))
}

// attempt runs one extraction in the given mode. Standard mode prefers the
// persistent worker; Safe mode always uses a fresh one-shot process.
func (o *Orchestrator) attempt(ctx context.Context, req Request, mode Mode) (*RawResult, error) {
	if mode == ModeStandard && o.useWorker {
		return o.pool.Analyze(ctx, mode, req.Path, req.Level, req.Filename)
	}
	return o.oneshot.Run(ctx, req.Path, req.Level, req.Filename, mode)
}

// finish applies tag resolution and persistence to a completed record.
func (o *Orchestrator) finish(ctx context.Context, req Request, rec *features.AudioFeatureRecord) (*features.AudioFeatureRecord, error) {
	if o.resolver != nil {
		rec.Tags = o.resolver.Resolve(ctx, req.Filename, rec)
	}
	if o.sink != nil {
		if err := o.sink.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist record for %s: %w", rec.SampleID, err)
		}
	}
	logging.Analysis("completed %s source=%s tags=%v", rec.SampleID, rec.Source, rec.TagNames())
	return rec, nil
}
