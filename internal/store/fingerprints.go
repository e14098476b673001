package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertFingerprint records the current content hash of a named artifact.
func (s *Store) UpsertFingerprint(ctx context.Context, fp Fingerprint) error {
	if fp.Artifact == "" || fp.Hash == "" {
		return errors.New("fingerprint requires artifact name and hash")
	}
	modified := fp.ModifiedAt
	if modified.IsZero() {
		modified = time.Now()
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO artifact_fingerprints (episode_id, artifact, hash, size, modified_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (episode_id, artifact) DO UPDATE SET
             hash = excluded.hash, size = excluded.size, modified_at = excluded.modified_at`,
		fp.EpisodeID, fp.Artifact, fp.Hash, fp.Size, timestamp(modified),
	); err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

// Fingerprints returns the current fingerprint of every artifact for an episode.
func (s *Store) Fingerprints(ctx context.Context, episodeID int64) (map[string]Fingerprint, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT artifact, hash, size, modified_at FROM artifact_fingerprints WHERE episode_id = ?`,
		episodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Fingerprint)
	for rows.Next() {
		var (
			artifact    string
			hash        string
			size        int64
			modifiedRaw string
		)
		if err := rows.Scan(&artifact, &hash, &size, &modifiedRaw); err != nil {
			return nil, err
		}
		fp := Fingerprint{EpisodeID: episodeID, Artifact: artifact, Hash: hash, Size: size}
		if modified, err := parseTimeString(modifiedRaw); err == nil {
			fp.ModifiedAt = modified
		}
		out[artifact] = fp
	}
	return out, rows.Err()
}

// RecordStageCompletion snapshots the input and output fingerprints of a
// successful stage run. The snapshot is what cache-validity checks compare
// against; it is written only after the output fingerprints themselves are
// durably recorded.
func (s *Store) RecordStageCompletion(ctx context.Context, rec StageRecord) error {
	if rec.Stage == "" {
		return errors.New("stage record requires stage name")
	}
	inputsJSON, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("marshal stage inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("marshal stage outputs: %w", err)
	}
	completed := rec.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO stage_records (episode_id, stage, inputs_json, outputs_json, completed_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (episode_id, stage) DO UPDATE SET
             inputs_json = excluded.inputs_json,
             outputs_json = excluded.outputs_json,
             completed_at = excluded.completed_at`,
		rec.EpisodeID, rec.Stage, string(inputsJSON), string(outputsJSON), timestamp(completed),
	); err != nil {
		return fmt.Errorf("record stage completion: %w", err)
	}
	return nil
}

// StageCompletion returns the fingerprint snapshot of a stage's last
// successful run, or ErrNotFound when the stage never completed.
func (s *Store) StageCompletion(ctx context.Context, episodeID int64, stage string) (*StageRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT inputs_json, outputs_json, completed_at FROM stage_records WHERE episode_id = ? AND stage = ?`,
		episodeID, stage,
	)
	var (
		inputsJSON   string
		outputsJSON  string
		completedRaw string
	)
	if err := row.Scan(&inputsJSON, &outputsJSON, &completedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stage %s for episode %d: %w", stage, episodeID, ErrNotFound)
		}
		return nil, fmt.Errorf("get stage completion: %w", err)
	}
	rec := &StageRecord{EpisodeID: episodeID, Stage: stage}
	if err := json.Unmarshal([]byte(inputsJSON), &rec.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal stage inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputsJSON), &rec.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshal stage outputs: %w", err)
	}
	if completed, err := parseTimeString(completedRaw); err == nil {
		rec.CompletedAt = completed
	}
	return rec, nil
}

// ClearStageCompletions drops all stage snapshots for an episode, forcing a
// full re-run. Used when an episode's transcript is replaced.
func (s *Store) ClearStageCompletions(ctx context.Context, episodeID int64) error {
	if err := s.execWithoutResultRetry(ctx,
		`DELETE FROM stage_records WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("clear stage completions: %w", err)
	}
	return nil
}
