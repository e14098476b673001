package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDraftConflict indicates a draft transition would violate the
// single-authoritative-draft invariant for its tweet.
var ErrDraftConflict = errors.New("store: conflicting authoritative draft")

const draftColumns = "id, tweet_id, text, final_text, model, status, superseded, scheduled_at, reject_reason, created_at, updated_at"

func scanDraft(scanner interface{ Scan(dest ...any) error }) (*Draft, error) {
	var (
		d            Draft
		finalText    sql.NullString
		model        sql.NullString
		status       string
		superseded   int
		scheduledRaw sql.NullString
		rejectReason sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&d.ID, &d.TweetID, &d.Text, &finalText, &model, &status, &superseded, &scheduledRaw, &rejectReason, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	d.FinalText = finalText.String
	d.Model = model.String
	d.Status = DraftStatus(status)
	d.Superseded = superseded != 0
	d.RejectReason = rejectReason.String
	if scheduledRaw.Valid {
		if scheduled, err := parseTimeString(scheduledRaw.String); err == nil {
			d.ScheduledAt = &scheduled
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		d.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		d.UpdatedAt = updated
	}
	return &d, nil
}

// GetDraft fetches a draft by id.
func (s *Store) GetDraft(ctx context.Context, id int64) (*Draft, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	return d, nil
}

// DraftsForTweet lists all drafts for a tweet in creation order.
func (s *Store) DraftsForTweet(ctx context.Context, tweetID int64) ([]*Draft, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+draftColumns+` FROM drafts WHERE tweet_id = ? ORDER BY id`, tweetID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var out []*Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDraft inserts a new pending draft for a tweet, superseding any
// currently-pending drafts. Already-approved, scheduled, or posted drafts are
// never superseded; the new draft simply does not affect their authority.
func (s *Store) CreateDraft(ctx context.Context, tweetID int64, text, model string) (*Draft, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("draft text is required")
	}
	var draftID int64
	now := timestamp(time.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var tweetStatus string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM tweets WHERE id = ?`, tweetID).Scan(&tweetStatus); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("tweet %d: %w", tweetID, ErrNotFound)
			}
			return fmt.Errorf("load tweet: %w", err)
		}
		if TweetStatus(tweetStatus) == TweetSkip {
			return fmt.Errorf("tweet %d is skipped; drafts are not accepted", tweetID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET superseded = 1, updated_at = ? WHERE tweet_id = ? AND status = ? AND superseded = 0`,
			now, tweetID, DraftPending,
		); err != nil {
			return fmt.Errorf("supersede pending drafts: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO drafts (tweet_id, text, model, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			tweetID, text, nullableString(model), DraftPending, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}
		draftID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		if TweetStatus(tweetStatus) == TweetRelevant {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tweets SET status = ?, updated_at = ? WHERE id = ?`,
				TweetDrafted, now, tweetID,
			); err != nil {
				return fmt.Errorf("advance tweet to drafted: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDraft(ctx, draftID)
}

// ApproveDraft marks a pending draft approved, optionally replacing its text.
// Refused when another non-superseded draft already holds authority for the
// tweet.
func (s *Store) ApproveDraft(ctx context.Context, draftID int64, finalText string) (*Draft, error) {
	now := timestamp(time.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tweetID, status, superseded, err := draftStateTx(ctx, tx, draftID)
		if err != nil {
			return err
		}
		if status != DraftPending || superseded {
			return fmt.Errorf("draft %d is not pending", draftID)
		}
		if err := ensureNoAuthoritativeTx(ctx, tx, tweetID, draftID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = ?, final_text = ?, updated_at = ? WHERE id = ?`,
			DraftApproved, nullableString(finalText), now, draftID,
		); err != nil {
			return fmt.Errorf("approve draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDraft(ctx, draftID)
}

// RejectDraft marks one draft rejected. When no other pending draft remains,
// the tweet reverts to relevant so a new draft may be generated. Returns the
// rejected draft, its tweet after the transition, and the number of pending
// drafts remaining.
func (s *Store) RejectDraft(ctx context.Context, draftID int64, reason string) (*Draft, *Tweet, int, error) {
	now := timestamp(time.Now())
	var (
		tweetID   int64
		remaining int
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status DraftStatus
		var superseded bool
		var err error
		tweetID, status, superseded, err = draftStateTx(ctx, tx, draftID)
		if err != nil {
			return err
		}
		if status != DraftPending {
			return fmt.Errorf("draft %d is not pending", draftID)
		}
		_ = superseded // superseded pending drafts may still be rejected explicitly

		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = ?, reject_reason = ?, updated_at = ? WHERE id = ?`,
			DraftRejected, nullableString(reason), now, draftID,
		); err != nil {
			return fmt.Errorf("reject draft: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM drafts WHERE tweet_id = ? AND status = ? AND superseded = 0`,
			tweetID, DraftPending,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("count pending drafts: %w", err)
		}

		if remaining == 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tweets SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				TweetRelevant, now, tweetID, TweetDrafted,
			); err != nil {
				return fmt.Errorf("revert tweet to relevant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, 0, err
	}
	draft, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return nil, nil, 0, err
	}
	tweet, err := s.GetTweet(ctx, tweetID)
	if err != nil {
		return nil, nil, 0, err
	}
	return draft, tweet, remaining, nil
}

// TrueRejectDraft disqualifies the underlying tweet entirely: every pending
// draft is rejected, the tweet moves to skip with its relevance score zeroed,
// and the rationale records why. Returns the tweet after the transition and
// the number of drafts cascaded.
func (s *Store) TrueRejectDraft(ctx context.Context, draftID int64, rationale string) (*Tweet, int64, error) {
	now := timestamp(time.Now())
	var (
		tweetID  int64
		cascaded int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		tweetID, _, _, err = draftStateTx(ctx, tx, draftID)
		if err != nil {
			return err
		}

		reason := strings.TrimSpace(rationale)
		if reason == "" {
			reason = "post rejected as not worth pursuing"
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = ?, reject_reason = ?, updated_at = ? WHERE tweet_id = ? AND status = ?`,
			DraftRejected, reason, now, tweetID, DraftPending,
		)
		if err != nil {
			return fmt.Errorf("cascade draft rejection: %w", err)
		}
		cascaded, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx,
			`UPDATE tweets SET status = ?, score = 0, rationale = ?, updated_at = ? WHERE id = ?`,
			TweetSkip, reason, now, tweetID,
		); err != nil {
			return fmt.Errorf("skip tweet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	tweet, err := s.GetTweet(ctx, tweetID)
	if err != nil {
		return nil, 0, err
	}
	return tweet, cascaded, nil
}

// ScheduleDraft marks a pending or approved draft scheduled for the target
// time, creates its publish intent carrying the final text, and advances the
// tweet. The intent row and the draft transition commit atomically.
func (s *Store) ScheduleDraft(ctx context.Context, draftID int64, at time.Time, finalText string) (*Draft, *PublishIntent, error) {
	if at.IsZero() {
		return nil, nil, errors.New("schedule time is required")
	}
	now := timestamp(time.Now())
	var intentID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tweetID, status, superseded, err := draftStateTx(ctx, tx, draftID)
		if err != nil {
			return err
		}
		if superseded {
			return fmt.Errorf("draft %d is superseded", draftID)
		}
		if status != DraftPending && status != DraftApproved {
			return fmt.Errorf("draft %d cannot be scheduled from status %s", draftID, status)
		}
		if status == DraftPending {
			if err := ensureNoAuthoritativeTx(ctx, tx, tweetID, draftID); err != nil {
				return err
			}
		}

		var text string
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(NULLIF(?, ''), COALESCE(NULLIF(final_text, ''), text)) FROM drafts WHERE id = ?`,
			finalText, draftID,
		).Scan(&text); err != nil {
			return fmt.Errorf("resolve final text: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = ?, final_text = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`,
			DraftScheduled, text, timestamp(at), now, draftID,
		); err != nil {
			return fmt.Errorf("schedule draft: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO publish_intents (draft_id, tweet_id, text, target_time, status, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			draftID, tweetID, text, timestamp(at), IntentPending, now,
		)
		if err != nil {
			return fmt.Errorf("insert publish intent: %w", err)
		}
		intentID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tweets SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			TweetScheduled, now, tweetID, TweetRelevant, TweetDrafted,
		); err != nil {
			return fmt.Errorf("advance tweet to scheduled: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	draft, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return nil, nil, err
	}
	intent, err := s.GetPublishIntent(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	return draft, intent, nil
}

// MarkDraftPosted records that an approved or scheduled draft was published
// externally, advancing its tweet to posted.
func (s *Store) MarkDraftPosted(ctx context.Context, draftID int64) error {
	now := timestamp(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		tweetID, status, _, err := draftStateTx(ctx, tx, draftID)
		if err != nil {
			return err
		}
		if status != DraftApproved && status != DraftScheduled {
			return fmt.Errorf("draft %d cannot be posted from status %s", draftID, status)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = ?, updated_at = ? WHERE id = ?`,
			DraftPosted, now, draftID,
		); err != nil {
			return fmt.Errorf("mark draft posted: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tweets SET status = ?, updated_at = ? WHERE id = ?`,
			TweetPosted, now, tweetID,
		); err != nil {
			return fmt.Errorf("mark tweet posted: %w", err)
		}
		return nil
	})
}

func draftStateTx(ctx context.Context, tx *sql.Tx, draftID int64) (int64, DraftStatus, bool, error) {
	var (
		tweetID    int64
		status     string
		superseded int
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT tweet_id, status, superseded FROM drafts WHERE id = ?`, draftID,
	).Scan(&tweetID, &status, &superseded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", false, fmt.Errorf("draft %d: %w", draftID, ErrNotFound)
		}
		return 0, "", false, fmt.Errorf("load draft: %w", err)
	}
	return tweetID, DraftStatus(status), superseded != 0, nil
}

func ensureNoAuthoritativeTx(ctx context.Context, tx *sql.Tx, tweetID, excludeDraftID int64) error {
	var conflicting int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM drafts
         WHERE tweet_id = ? AND id != ? AND superseded = 0 AND status IN (?, ?, ?)`,
		tweetID, excludeDraftID, DraftApproved, DraftScheduled, DraftPosted,
	).Scan(&conflicting); err != nil {
		return fmt.Errorf("check authoritative drafts: %w", err)
	}
	if conflicting > 0 {
		return fmt.Errorf("tweet %d: %w", tweetID, ErrDraftConflict)
	}
	return nil
}
