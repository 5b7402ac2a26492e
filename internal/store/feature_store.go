// Package store persists audio feature records in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"soundnerd/internal/features"
	"soundnerd/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS feature_records (
	sample_id              TEXT PRIMARY KEY,
	duration_sec           REAL NOT NULL DEFAULT 0,
	sample_rate            INTEGER NOT NULL DEFAULT 0,
	channels               INTEGER NOT NULL DEFAULT 0,
	bpm                    REAL NOT NULL DEFAULT 0,
	bpm_confidence         REAL NOT NULL DEFAULT 0,
	danceability           REAL NOT NULL DEFAULT 0,
	key_name               TEXT NOT NULL DEFAULT '',
	key_scale              TEXT NOT NULL DEFAULT '',
	spectral_centroid      REAL NOT NULL DEFAULT 0,
	spectral_rolloff       REAL NOT NULL DEFAULT 0,
	spectral_flatness      REAL NOT NULL DEFAULT 0,
	zero_crossing_rate     REAL NOT NULL DEFAULT 0,
	rms_energy             REAL NOT NULL DEFAULT 0,
	loudness_lufs          REAL NOT NULL DEFAULT 0,
	brightness             REAL NOT NULL DEFAULT 0,
	warmth                 REAL NOT NULL DEFAULT 0,
	hardness               REAL NOT NULL DEFAULT 0,
	is_one_shot            INTEGER NOT NULL DEFAULT 0,
	is_loop                INTEGER NOT NULL DEFAULT 0,
	sample_type_confidence REAL NOT NULL DEFAULT 0,
	embedding              TEXT NOT NULL DEFAULT '[]',
	fingerprint            TEXT NOT NULL DEFAULT '',
	tags                   TEXT NOT NULL DEFAULT '[]',
	analysis_duration_ms   INTEGER NOT NULL DEFAULT 0,
	analysis_source        TEXT NOT NULL DEFAULT 'standard',
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feature_records_source ON feature_records(analysis_source);
CREATE INDEX IF NOT EXISTS idx_feature_records_bpm ON feature_records(bpm);
`

// FeatureStore persists AudioFeatureRecords in SQLite. A sample has exactly
// one row; re-analysis overwrites everything except created_at.
type FeatureStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the feature database at path.
func Open(path string) (*FeatureStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("feature store opened at %s", path)
	return &FeatureStore{db: db}, nil
}

// Close closes the underlying database.
func (s *FeatureStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the record for its sample. The original created_at
// is preserved across re-analysis.
func (s *FeatureStore) Put(ctx context.Context, rec *features.AudioFeatureRecord) error {
	embedding, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	now := time.Now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feature_records (
			sample_id, duration_sec, sample_rate, channels,
			bpm, bpm_confidence, danceability,
			key_name, key_scale,
			spectral_centroid, spectral_rolloff, spectral_flatness,
			zero_crossing_rate, rms_energy,
			loudness_lufs, brightness, warmth, hardness,
			is_one_shot, is_loop, sample_type_confidence,
			embedding, fingerprint, tags,
			analysis_duration_ms, analysis_source,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(sample_id) DO UPDATE SET
			duration_sec = excluded.duration_sec,
			sample_rate = excluded.sample_rate,
			channels = excluded.channels,
			bpm = excluded.bpm,
			bpm_confidence = excluded.bpm_confidence,
			danceability = excluded.danceability,
			key_name = excluded.key_name,
			key_scale = excluded.key_scale,
			spectral_centroid = excluded.spectral_centroid,
			spectral_rolloff = excluded.spectral_rolloff,
			spectral_flatness = excluded.spectral_flatness,
			zero_crossing_rate = excluded.zero_crossing_rate,
			rms_energy = excluded.rms_energy,
			loudness_lufs = excluded.loudness_lufs,
			brightness = excluded.brightness,
			warmth = excluded.warmth,
			hardness = excluded.hardness,
			is_one_shot = excluded.is_one_shot,
			is_loop = excluded.is_loop,
			sample_type_confidence = excluded.sample_type_confidence,
			embedding = excluded.embedding,
			fingerprint = excluded.fingerprint,
			tags = excluded.tags,
			analysis_duration_ms = excluded.analysis_duration_ms,
			analysis_source = excluded.analysis_source,
			updated_at = excluded.updated_at`,
		rec.SampleID, rec.DurationSec, rec.SampleRate, rec.Channels,
		rec.BPM, rec.BPMConfidence, rec.Danceability,
		rec.KeyName, rec.KeyScale,
		rec.SpectralCentroid, rec.SpectralRolloff, rec.SpectralFlatness,
		rec.ZeroCrossingRate, rec.RMSEnergy,
		rec.LoudnessLUFS, rec.Brightness, rec.Warmth, rec.Hardness,
		rec.IsOneShot, rec.IsLoop, rec.SampleTypeConfidence,
		string(embedding), rec.Fingerprint, string(tags),
		rec.AnalysisDurationMs, string(rec.Source),
		createdAt, now,
	)
	if err != nil {
		logging.StoreError("failed to persist %s: %v", rec.SampleID, err)
		return fmt.Errorf("failed to persist record %s: %w", rec.SampleID, err)
	}

	logging.StoreDebug("persisted %s source=%s", rec.SampleID, rec.Source)
	return nil
}

// Get returns the record for sampleID, or nil when absent.
func (s *FeatureStore) Get(ctx context.Context, sampleID string) (*features.AudioFeatureRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sample_id, duration_sec, sample_rate, channels,
			bpm, bpm_confidence, danceability,
			key_name, key_scale,
			spectral_centroid, spectral_rolloff, spectral_flatness,
			zero_crossing_rate, rms_energy,
			loudness_lufs, brightness, warmth, hardness,
			is_one_shot, is_loop, sample_type_confidence,
			embedding, fingerprint, tags,
			analysis_duration_ms, analysis_source,
			created_at, updated_at
		FROM feature_records WHERE sample_id = ?`, sampleID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListBySource returns every record produced by the given analysis source.
func (s *FeatureStore) ListBySource(ctx context.Context, source features.AnalysisSource) ([]*features.AudioFeatureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_id, duration_sec, sample_rate, channels,
			bpm, bpm_confidence, danceability,
			key_name, key_scale,
			spectral_centroid, spectral_rolloff, spectral_flatness,
			zero_crossing_rate, rms_energy,
			loudness_lufs, brightness, warmth, hardness,
			is_one_shot, is_loop, sample_type_confidence,
			embedding, fingerprint, tags,
			analysis_duration_ms, analysis_source,
			created_at, updated_at
		FROM feature_records WHERE analysis_source = ? ORDER BY updated_at DESC`, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*features.AudioFeatureRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes the record for sampleID, reporting whether a row existed.
func (s *FeatureStore) Delete(ctx context.Context, sampleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feature_records WHERE sample_id = ?`, sampleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete record %s: %w", sampleID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Count returns the total number of persisted records.
func (s *FeatureStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feature_records`).Scan(&n)
	return n, err
}

// CountBySource returns record counts keyed by analysis source.
func (s *FeatureStore) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT analysis_source, COUNT(*) FROM feature_records GROUP BY analysis_source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*features.AudioFeatureRecord, error) {
	var rec features.AudioFeatureRecord
	var embedding, tags, source string

	err := row.Scan(
		&rec.SampleID, &rec.DurationSec, &rec.SampleRate, &rec.Channels,
		&rec.BPM, &rec.BPMConfidence, &rec.Danceability,
		&rec.KeyName, &rec.KeyScale,
		&rec.SpectralCentroid, &rec.SpectralRolloff, &rec.SpectralFlatness,
		&rec.ZeroCrossingRate, &rec.RMSEnergy,
		&rec.LoudnessLUFS, &rec.Brightness, &rec.Warmth, &rec.Hardness,
		&rec.IsOneShot, &rec.IsLoop, &rec.SampleTypeConfidence,
		&embedding, &rec.Fingerprint, &tags,
		&rec.AnalysisDurationMs, &source,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embedding), &rec.Embedding); err != nil {
		return nil, fmt.Errorf("corrupt embedding for %s: %w", rec.SampleID, err)
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for %s: %w", rec.SampleID, err)
	}
	rec.Source = features.AnalysisSource(source)

	return &rec, nil
}
