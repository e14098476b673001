package runner

import (
	"context"
	"fmt"
	"time"

	"soundbite/internal/logging"
	"soundbite/internal/proctrack"
	"soundbite/internal/store"
)

// StuckEpisode describes one episode the reconciler would (or did) reset.
type StuckEpisode struct {
	EpisodeID int64     `json:"episode_id"`
	Title     string    `json:"title"`
	RunID     string    `json:"run_id,omitempty"`
	StalledAt time.Time `json:"stalled_at"`
	Reset     bool      `json:"reset"`
}

// ResetStuck finds episodes stuck in processing: older than the threshold
// with no live worker process. With dryRun the candidates are reported but
// untouched. Each actual reset fails the active run, returns the episode to
// ready, and leaves an audit record.
func (r *Runner) ResetStuck(ctx context.Context, olderThan time.Duration, dryRun bool) ([]StuckEpisode, error) {
	if olderThan <= 0 {
		olderThan = time.Duration(r.cfg.Pipeline.StuckThresholdMinutes) * time.Minute
	}
	cutoff := time.Now().Add(-olderThan)

	episodes, err := r.store.ProcessingEpisodesOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var out []StuckEpisode
	for _, episode := range episodes {
		if r.IsLive(episode.ID) || r.tracker.IsRunning(episode.ID) {
			continue
		}
		candidate := StuckEpisode{
			EpisodeID: episode.ID,
			Title:     episode.Title,
			StalledAt: episode.UpdatedAt,
		}
		run, err := r.store.ActiveRun(ctx, episode.ID)
		if err != nil {
			return nil, err
		}
		if run != nil {
			candidate.RunID = run.ID
		}
		if dryRun {
			out = append(out, candidate)
			continue
		}

		if run != nil {
			if err := r.store.SetRunStatus(ctx, run.ID, store.RunFailed, "reset after stall: no live worker process"); err != nil {
				return nil, err
			}
		}
		if err := r.store.SetEpisodeStatus(ctx, episode.ID, store.EpisodeReady); err != nil {
			return nil, err
		}
		if err := r.store.AppendAudit(ctx, "run_reset_stuck", "episode",
			fmt.Sprintf("%d", episode.ID), candidate.RunID); err != nil {
			r.logger.Warn("audit append failed", logging.Error(err))
		}
		candidate.Reset = true
		out = append(out, candidate)

		r.logger.Info("stuck episode reset",
			logging.Int64(logging.FieldEpisodeID, episode.ID),
			logging.String(logging.FieldRunID, candidate.RunID))
	}
	return out, nil
}

// Kill terminates every tracked process for an episode, fails its active run,
// and marks the episode errored. Safe to call when nothing is running.
func (r *Runner) Kill(ctx context.Context, episodeID int64) (proctrack.KillResult, error) {
	episode, err := r.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return proctrack.KillResult{}, err
	}

	grace := time.Duration(r.cfg.Pipeline.KillGraceSeconds) * time.Second
	result := r.tracker.KillForEpisode(episodeID, grace)

	run, err := r.store.ActiveRun(ctx, episodeID)
	if err != nil {
		return result, err
	}
	if run != nil {
		if err := r.store.SetRunStatus(ctx, run.ID, store.RunFailed, "terminated by operator"); err != nil {
			return result, err
		}
		if err := r.store.SetEpisodeStatus(ctx, episodeID, store.EpisodeError); err != nil {
			return result, err
		}
	}
	if err := r.store.AppendAudit(ctx, "run_killed", "episode",
		fmt.Sprintf("%d", episodeID), fmt.Sprintf("killed=%d failed=%d", result.Killed, len(result.Failed))); err != nil {
		r.logger.Warn("audit append failed", logging.Error(err))
	}

	r.logger.Info("kill sweep finished",
		logging.Int64(logging.FieldEpisodeID, episode.ID),
		logging.Int("killed", result.Killed),
		logging.Int("failed", len(result.Failed)))
	return result, nil
}
