package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const tweetColumns = "id, episode_id, external_id, author, text, engagement, score, rationale, status, keywords_csv, created_at, updated_at"

func scanTweet(scanner interface{ Scan(dest ...any) error }) (*Tweet, error) {
	var (
		t          Tweet
		author     sql.NullString
		rationale  sql.NullString
		keywords   sql.NullString
		createdRaw string
		updatedRaw string
		status     string
	)
	if err := scanner.Scan(&t.ID, &t.EpisodeID, &t.ExternalID, &author, &t.Text, &t.Engagement, &t.Score, &rationale, &status, &keywords, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t.Author = author.String
	t.Rationale = rationale.String
	t.KeywordsCSV = keywords.String
	t.Status = TweetStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		t.UpdatedAt = updated
	}
	return &t, nil
}

// InsertTweet records a discovered post. Duplicate external ids for the same
// episode are ignored and the existing row returned.
func (s *Store) InsertTweet(ctx context.Context, t Tweet) (*Tweet, error) {
	if t.ExternalID == "" || strings.TrimSpace(t.Text) == "" {
		return nil, errors.New("tweet requires external id and text")
	}
	if t.Status == "" {
		t.Status = TweetUnclassified
	}
	now := timestamp(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO tweets (episode_id, external_id, author, text, engagement, score, rationale, status, keywords_csv, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (episode_id, external_id) DO NOTHING`,
		t.EpisodeID, t.ExternalID, nullableString(t.Author), t.Text, t.Engagement,
		t.Score, nullableString(t.Rationale), t.Status, nullableString(t.KeywordsCSV), now, now,
	); err != nil {
		return nil, fmt.Errorf("insert tweet: %w", err)
	}
	return s.TweetByExternalID(ctx, t.EpisodeID, t.ExternalID)
}

// GetTweet fetches a tweet by id.
func (s *Store) GetTweet(ctx context.Context, id int64) (*Tweet, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+tweetColumns+` FROM tweets WHERE id = ?`, id)
	t, err := scanTweet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tweet %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tweet: %w", err)
	}
	return t, nil
}

// TweetByExternalID fetches a tweet by its external identifier.
func (s *Store) TweetByExternalID(ctx context.Context, episodeID int64, externalID string) (*Tweet, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+tweetColumns+` FROM tweets WHERE episode_id = ? AND external_id = ?`,
		episodeID, externalID)
	t, err := scanTweet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tweet %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tweet by external id: %w", err)
	}
	return t, nil
}

// TweetsForEpisode lists tweets for an episode, optionally filtered by status.
func (s *Store) TweetsForEpisode(ctx context.Context, episodeID int64, statuses ...TweetStatus) ([]*Tweet, error) {
	query := `SELECT ` + tweetColumns + ` FROM tweets WHERE episode_id = ?`
	args := []any{episodeID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY score DESC, id ASC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tweets: %w", err)
	}
	defer rows.Close()

	var out []*Tweet
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTweetClassification applies the classification stage's verdict: score,
// rationale, and the relevant/skip decision.
func (s *Store) SetTweetClassification(ctx context.Context, id int64, score float64, rationale string, relevant bool) error {
	status := TweetRelevant
	if !relevant {
		status = TweetSkip
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tweets SET score = ?, rationale = ?, status = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		score, nullableString(rationale), status, timestamp(time.Now()), id, TweetUnclassified,
	)
	if err != nil {
		return fmt.Errorf("classify tweet: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("tweet %d is not unclassified", id)
	}
	return nil
}

// SetTweetStatus advances a tweet's status. The caller is responsible for
// honoring the forward-only transition policy; the explicit skip path goes
// through TrueRejectDraft.
func (s *Store) SetTweetStatus(ctx context.Context, id int64, status TweetStatus) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tweets SET status = ?, updated_at = ? WHERE id = ?`,
		status, timestamp(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set tweet status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("tweet %d: %w", id, ErrNotFound)
	}
	return nil
}
