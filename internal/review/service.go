// Package review implements the human moderation surface for draft replies.
// Every decision lands in the audit trail, and negative decisions feed a
// penalty back into the keywords that surfaced the tweet so later discovery
// runs deprioritize them.
package review

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"soundbite/internal/config"
	"soundbite/internal/services"
	"soundbite/internal/store"
)

// Service applies review decisions to drafts on behalf of an operator.
type Service struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

// NewService builds a review service.
func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, store: st, logger: logger.With(slog.String("component", "review"))}
}

// Approve marks a draft ready for manual posting. An optional finalText
// overrides the generated text.
func (s *Service) Approve(ctx context.Context, draftID int64, finalText string) (*store.Draft, error) {
	draft, err := s.store.ApproveDraft(ctx, draftID, finalText)
	if err != nil {
		return nil, err
	}
	if tweet, terr := s.store.GetTweet(ctx, draft.TweetID); terr == nil {
		s.reward(ctx, tweet, s.cfg.Review.ApproveReward)
	}
	s.audit(ctx, "draft_approved", draft.ID, map[string]any{
		"tweet_id": draft.TweetID,
		"edited":   strings.TrimSpace(finalText) != "",
	})
	return draft, nil
}

// Reject discards one draft. The tweet stays in play: if other pending drafts
// remain it stays drafted, otherwise it reverts to relevant so a later respond
// stage can try again. The keywords that surfaced the tweet take a small
// penalty.
func (s *Service) Reject(ctx context.Context, draftID int64, reason string) (*store.Draft, error) {
	draft, tweet, remaining, err := s.store.RejectDraft(ctx, draftID, reason)
	if err != nil {
		return nil, err
	}
	s.penalize(ctx, tweet, s.cfg.Review.RejectPenalty, "reject")
	s.audit(ctx, "draft_rejected", draft.ID, map[string]any{
		"tweet_id":  tweet.ID,
		"reason":    reason,
		"remaining": remaining,
	})
	return draft, nil
}

// TrueReject declares the tweet itself a bad target: every pending draft for
// it is rejected, the tweet is skipped, and its keywords take the larger
// penalty.
func (s *Service) TrueReject(ctx context.Context, draftID int64, rationale string) (*store.Tweet, error) {
	tweet, cascaded, err := s.store.TrueRejectDraft(ctx, draftID, rationale)
	if err != nil {
		return nil, err
	}
	s.penalize(ctx, tweet, s.cfg.Review.TrueRejectPenalty, "true_reject")
	s.audit(ctx, "draft_true_rejected", draftID, map[string]any{
		"tweet_id":  tweet.ID,
		"rationale": rationale,
		"cascaded":  cascaded,
	})
	return tweet, nil
}

// Schedule approves a draft and books it for automatic publication at the
// given time.
func (s *Service) Schedule(ctx context.Context, draftID int64, at time.Time, finalText string) (*store.Draft, *store.PublishIntent, error) {
	if at.Before(time.Now()) {
		return nil, nil, services.Wrap(services.ErrValidation, "review", "schedule draft",
			"target time is in the past", nil)
	}
	draft, intent, err := s.store.ScheduleDraft(ctx, draftID, at, finalText)
	if err != nil {
		return nil, nil, err
	}
	s.audit(ctx, "draft_scheduled", draft.ID, map[string]any{
		"tweet_id":    draft.TweetID,
		"intent_id":   intent.ID,
		"target_time": at.UTC().Format(time.RFC3339),
	})
	return draft, intent, nil
}

// reward raises the weight of the keywords recorded on the tweet after an
// approval confirms their value.
func (s *Service) reward(ctx context.Context, tweet *store.Tweet, reward float64) {
	terms := tweet.Keywords()
	if len(terms) == 0 || reward <= 0 {
		return
	}
	if _, err := s.store.RewardKeywords(ctx, tweet.EpisodeID, terms, reward); err != nil {
		s.logger.Warn("keyword reward failed",
			slog.Int64("tweet_id", tweet.ID),
			slog.Any("error", err))
	}
}

// penalize lowers the weight of the keywords recorded on the tweet. A failed
// penalty never unwinds the review decision itself.
func (s *Service) penalize(ctx context.Context, tweet *store.Tweet, penalty float64, kind string) {
	terms := tweet.Keywords()
	if len(terms) == 0 || penalty <= 0 {
		return
	}
	updated, err := s.store.PenalizeKeywords(ctx, tweet.EpisodeID, terms, penalty)
	if err != nil {
		s.logger.Warn("keyword penalty failed",
			slog.Int64("tweet_id", tweet.ID),
			slog.String("kind", kind),
			slog.Any("error", err))
		return
	}
	s.logger.Info("keywords penalized",
		slog.Int64("tweet_id", tweet.ID),
		slog.String("kind", kind),
		slog.Float64("penalty", penalty),
		slog.Int64("updated", updated))
}

func (s *Service) audit(ctx context.Context, action string, draftID int64, payload map[string]any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = nil
	}
	if err := s.store.AppendAudit(ctx, action, "draft", strconv.FormatInt(draftID, 10), string(encoded)); err != nil {
		s.logger.Warn("audit append failed", slog.String("action", action), slog.Any("error", err))
	}
}
