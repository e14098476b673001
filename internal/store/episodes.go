package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const episodeColumns = "id, title, status, variant, last_validation, created_at, updated_at"

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*Episode, error) {
	var (
		id         int64
		title      string
		status     string
		variant    string
		validation sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&id, &title, &status, &variant, &validation, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	ep := &Episode{
		ID:             id,
		Title:          title,
		Status:         EpisodeStatus(status),
		Variant:        variant,
		LastValidation: validation.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		ep.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		ep.UpdatedAt = updated
	}
	return ep, nil
}

// CreateEpisode inserts a new episode awaiting transcript upload.
func (s *Store) CreateEpisode(ctx context.Context, title, variant string) (*Episode, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("episode title is required")
	}
	if variant == "" {
		variant = "full"
	}
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO episodes (title, status, variant, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(title), EpisodeNoInput, variant, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetEpisode(ctx, id)
}

// GetEpisode fetches an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return ep, nil
}

// ListEpisodes returns all episodes ordered by id.
func (s *Store) ListEpisodes(ctx context.Context) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+episodeColumns+` FROM episodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// SetEpisodeStatus transitions an episode's coarse status.
func (s *Store) SetEpisodeStatus(ctx context.Context, id int64, status EpisodeStatus) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET status = ?, updated_at = ? WHERE id = ?`,
		status, timestamp(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set episode status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("episode %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetEpisodeValidation records the most recent validation result summary.
func (s *Store) SetEpisodeValidation(ctx context.Context, id int64, result string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE episodes SET last_validation = ?, updated_at = ? WHERE id = ?`,
		nullableString(result), timestamp(time.Now()), id,
	); err != nil {
		return fmt.Errorf("set episode validation: %w", err)
	}
	return nil
}

// ProcessingEpisodesOlderThan returns episodes in processing status whose
// last update precedes cutoff. Used by stuck-run reconciliation.
func (s *Store) ProcessingEpisodesOlderThan(ctx context.Context, cutoff time.Time) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+episodeColumns+` FROM episodes WHERE status = ? AND updated_at < ? ORDER BY id`,
		EpisodeProcessing, timestamp(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale processing episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// EpisodeStats returns a count of episodes grouped by status.
func (s *Store) EpisodeStats(ctx context.Context) (map[EpisodeStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("episode stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[EpisodeStatus]int)
	for rows.Next() {
		var status EpisodeStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
