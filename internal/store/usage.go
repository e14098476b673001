package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrQuotaExhausted indicates a reservation would push recorded usage past
// the period limit.
var ErrQuotaExhausted = errors.New("store: api quota exhausted for period")

// UsageForPeriod returns the number of API calls recorded for the period.
// Unknown periods report zero.
func (s *Store) UsageForPeriod(ctx context.Context, period string) (int64, error) {
	var calls int64
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT calls FROM api_usage WHERE period = ?`, period).Scan(&calls)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("usage for period: %w", err)
	}
	return calls, nil
}

// ReserveUsage atomically adds calls to the period counter, refusing when the
// result would exceed limit. The guard lives in the UPDATE itself so
// concurrent reservations cannot jointly overshoot.
func (s *Store) ReserveUsage(ctx context.Context, period string, calls, limit int64) error {
	if calls <= 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO api_usage (period, calls) VALUES (?, 0) ON CONFLICT(period) DO NOTHING`,
			period,
		); err != nil {
			return fmt.Errorf("ensure usage row: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE api_usage SET calls = calls + ? WHERE period = ? AND calls + ? <= ?`,
			calls, period, calls, limit,
		)
		if err != nil {
			return fmt.Errorf("reserve usage: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("period %s: %w", period, ErrQuotaExhausted)
		}
		return nil
	})
}

// RecordUsage adds calls to the period counter without enforcing a limit.
// Used to reconcile actual consumption reported by workers after the fact.
func (s *Store) RecordUsage(ctx context.Context, period string, calls int64) error {
	if calls <= 0 {
		return nil
	}
	err := s.execWithoutResultRetry(ensureContext(ctx),
		`INSERT INTO api_usage (period, calls) VALUES (?, ?)
         ON CONFLICT(period) DO UPDATE SET calls = calls + excluded.calls`,
		period, calls,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ReleaseUsage subtracts calls reserved but not consumed, clamping at zero.
func (s *Store) ReleaseUsage(ctx context.Context, period string, calls int64) error {
	if calls <= 0 {
		return nil
	}
	err := s.execWithoutResultRetry(ensureContext(ctx),
		`UPDATE api_usage SET calls = MAX(0, calls - ?) WHERE period = ?`,
		calls, period,
	)
	if err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}
