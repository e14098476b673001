package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const intentColumns = "id, draft_id, tweet_id, text, target_time, status, dispatched_at, created_at"

func scanIntent(scanner interface{ Scan(dest ...any) error }) (*PublishIntent, error) {
	var (
		p             PublishIntent
		status        string
		targetRaw     string
		dispatchedRaw sql.NullString
		createdRaw    string
	)
	if err := scanner.Scan(&p.ID, &p.DraftID, &p.TweetID, &p.Text, &targetRaw, &status, &dispatchedRaw, &createdRaw); err != nil {
		return nil, err
	}
	p.Status = IntentStatus(status)
	if target, err := parseTimeString(targetRaw); err == nil {
		p.TargetTime = target
	}
	if dispatchedRaw.Valid {
		if dispatched, err := parseTimeString(dispatchedRaw.String); err == nil {
			p.DispatchedAt = &dispatched
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = created
	}
	return &p, nil
}

// GetPublishIntent fetches a publish intent by id.
func (s *Store) GetPublishIntent(ctx context.Context, id int64) (*PublishIntent, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+intentColumns+` FROM publish_intents WHERE id = ?`, id)
	p, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("publish intent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get publish intent: %w", err)
	}
	return p, nil
}

// DuePublishIntents returns pending intents whose target time is at or before
// the cutoff, oldest target first.
func (s *Store) DuePublishIntents(ctx context.Context, cutoff time.Time) ([]*PublishIntent, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+intentColumns+` FROM publish_intents
         WHERE status = ? AND target_time <= ?
         ORDER BY target_time, id`,
		IntentPending, timestamp(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list due intents: %w", err)
	}
	defer rows.Close()

	var out []*PublishIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingPublishIntents lists every intent still waiting on dispatch.
func (s *Store) PendingPublishIntents(ctx context.Context) ([]*PublishIntent, error) {
	return s.DuePublishIntents(ctx, time.Now().Add(100*365*24*time.Hour))
}

// MarkIntentDispatched transitions a pending intent to dispatched. Returns
// false when the intent was already claimed, which keeps a double-firing
// dispatcher from posting twice.
func (s *Store) MarkIntentDispatched(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE publish_intents SET status = ?, dispatched_at = ? WHERE id = ? AND status = ?`,
		IntentDispatched, timestamp(time.Now()), id, IntentPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark intent dispatched: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
