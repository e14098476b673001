package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, episode_id, stage, progress, status, error_message, metadata_json, started_at, estimated_done, updated_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           string
		episodeID    int64
		stage        sql.NullString
		progress     float64
		status       string
		errorMessage sql.NullString
		metadata     sql.NullString
		startedRaw   string
		estimatedRaw sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(&id, &episodeID, &stage, &progress, &status, &errorMessage, &metadata, &startedRaw, &estimatedRaw, &updatedRaw); err != nil {
		return nil, err
	}
	run := &Run{
		ID:           id,
		EpisodeID:    episodeID,
		Stage:        stage.String,
		Progress:     progress,
		Status:       RunStatus(status),
		ErrorMessage: errorMessage.String,
		MetadataJSON: metadata.String,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if estimatedRaw.Valid {
		if estimated, err := parseTimeString(estimatedRaw.String); err == nil {
			run.EstimatedDone = &estimated
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}

// CreateRun inserts a new queued run for an episode.
func (s *Store) CreateRun(ctx context.Context, runID string, episodeID int64, metadataJSON string) (*Run, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	now := timestamp(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO pipeline_runs (id, episode_id, status, metadata_json, started_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID, episodeID, RunQueued, nullableString(metadataJSON), now, now,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, runID)
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run for an episode, or
// ErrNotFound when the episode has never run.
func (s *Store) LatestRun(ctx context.Context, episodeID int64) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM pipeline_runs WHERE episode_id = ? ORDER BY started_at DESC LIMIT 1`,
		episodeID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runs for episode %d: %w", episodeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ActiveRun returns the episode's non-terminal run if one exists.
func (s *Store) ActiveRun(ctx context.Context, episodeID int64) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM pipeline_runs
         WHERE episode_id = ? AND status IN (?, ?, ?)
         ORDER BY started_at DESC LIMIT 1`,
		episodeID, RunQueued, RunRunning, RunValidating)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active run: %w", err)
	}
	return run, nil
}

// UpdateRunProgress records the current stage, numeric progress, and optional
// completion estimate of a live run.
func (s *Store) UpdateRunProgress(ctx context.Context, runID, stage string, progress float64, estimated *time.Time) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE pipeline_runs SET stage = ?, progress = ?, estimated_done = ?, updated_at = ? WHERE id = ?`,
		nullableString(stage), progress, nullableTime(estimated), timestamp(time.Now()), runID,
	); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// SetRunStatus transitions a run's status. Terminal states are immutable;
// attempting to change one returns an error.
func (s *Store) SetRunStatus(ctx context.Context, runID string, status RunStatus, errorMessage string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE pipeline_runs SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		status, nullableString(errorMessage), timestamp(time.Now()), runID, RunCompleted, RunFailed,
	)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		current, getErr := s.GetRun(ctx, runID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("run %s is terminal (%s); start a new run", runID, current.Status)
	}
	return nil
}

// AppendRunError records one failed stage attempt. Records are append-only.
func (s *Store) AppendRunError(ctx context.Context, re RunError) error {
	if re.RunID == "" || re.Stage == "" {
		return errors.New("run error requires run id and stage")
	}
	if re.Attempt <= 0 {
		re.Attempt = 1
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO pipeline_errors (episode_id, run_id, stage, classification, message, attempt, system_state, recovery_hint, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		re.EpisodeID, re.RunID, re.Stage, re.Classification, re.Message, re.Attempt,
		nullableString(re.SystemState), nullableString(re.RecoveryHint), timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("append run error: %w", err)
	}
	return nil
}

// RunErrors returns the append-only error records for a run in order.
func (s *Store) RunErrors(ctx context.Context, runID string) ([]RunError, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, episode_id, run_id, stage, classification, message, attempt, system_state, recovery_hint, created_at
         FROM pipeline_errors WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list run errors: %w", err)
	}
	defer rows.Close()

	var out []RunError
	for rows.Next() {
		var (
			re         RunError
			state      sql.NullString
			hint       sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&re.ID, &re.EpisodeID, &re.RunID, &re.Stage, &re.Classification, &re.Message, &re.Attempt, &state, &hint, &createdRaw); err != nil {
			return nil, err
		}
		re.SystemState = state.String
		re.RecoveryHint = hint.String
		if created, err := parseTimeString(createdRaw); err == nil {
			re.CreatedAt = created
		}
		out = append(out, re)
	}
	return out, rows.Err()
}
