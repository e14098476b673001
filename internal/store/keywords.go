package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertKeyword creates or updates an episode-scoped search term. Weight is
// clamped to [0,1].
func (s *Store) UpsertKeyword(ctx context.Context, episodeID int64, term string, weight float64, enabled bool, position int) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return errors.New("keyword term is required")
	}
	weight = clampWeight(weight)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO keywords (episode_id, term, weight, enabled, position, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (episode_id, term) DO UPDATE SET
             weight = excluded.weight, enabled = excluded.enabled,
             position = excluded.position, updated_at = excluded.updated_at`,
		episodeID, term, weight, boolToInt(enabled), position, timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert keyword: %w", err)
	}
	return nil
}

// Keywords returns an episode's keywords. When enabledOnly is set, disabled
// terms are filtered out. Ordering matches discovery priority: weight
// descending with declared position as the stable tie-break.
func (s *Store) Keywords(ctx context.Context, episodeID int64, enabledOnly bool) ([]Keyword, error) {
	query := `SELECT id, episode_id, term, weight, enabled, position, updated_at
        FROM keywords WHERE episode_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY weight DESC, position ASC, id ASC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, episodeID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var (
			kw         Keyword
			enabled    int
			updatedRaw string
		)
		if err := rows.Scan(&kw.ID, &kw.EpisodeID, &kw.Term, &kw.Weight, &enabled, &kw.Position, &updatedRaw); err != nil {
			return nil, err
		}
		kw.Enabled = enabled != 0
		if updated, err := parseTimeString(updatedRaw); err == nil {
			kw.UpdatedAt = updated
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// PenalizeKeywords reduces the weight of the given terms by penalty, clamping
// at zero. Terms that do not exist for the episode are ignored. Returns the
// number of keywords adjusted.
func (s *Store) PenalizeKeywords(ctx context.Context, episodeID int64, terms []string, penalty float64) (int64, error) {
	if len(terms) == 0 || penalty <= 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(terms))
	args := make([]any, 0, len(terms)+3)
	args = append(args, penalty, timestamp(time.Now()), episodeID)
	for _, term := range terms {
		args = append(args, strings.TrimSpace(term))
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE keywords SET weight = MAX(0, weight - ?), updated_at = ?
         WHERE episode_id = ? AND term IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("penalize keywords: %w", err)
	}
	return res.RowsAffected()
}

// RewardKeywords raises the weight of the given terms by reward, clamping at
// one. Applied when an approved draft confirms a keyword's value.
func (s *Store) RewardKeywords(ctx context.Context, episodeID int64, terms []string, reward float64) (int64, error) {
	if len(terms) == 0 || reward <= 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(terms))
	args := make([]any, 0, len(terms)+3)
	args = append(args, reward, timestamp(time.Now()), episodeID)
	for _, term := range terms {
		args = append(args, strings.TrimSpace(term))
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE keywords SET weight = MIN(1, weight + ?), updated_at = ?
         WHERE episode_id = ? AND term IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reward keywords: %w", err)
	}
	return res.RowsAffected()
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
