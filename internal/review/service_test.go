package review_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"soundbite/internal/review"
	"soundbite/internal/services"
	"soundbite/internal/store"
	"soundbite/internal/testsupport"
)

func seedTweetWithKeywords(t *testing.T, st *store.Store, episodeID int64) *store.Tweet {
	t.Helper()
	ctx := context.Background()
	for i, term := range []string{"golang", "podcast"} {
		if err := st.UpsertKeyword(ctx, episodeID, term, 0.5, true, i); err != nil {
			t.Fatalf("UpsertKeyword failed: %v", err)
		}
	}
	tweet, err := st.InsertTweet(ctx, store.Tweet{
		EpisodeID:   episodeID,
		ExternalID:  "tw-review",
		Author:      "gopher",
		Text:        "any good go podcasts?",
		KeywordsCSV: "golang,podcast",
	})
	if err != nil {
		t.Fatalf("InsertTweet failed: %v", err)
	}
	if err := st.SetTweetClassification(ctx, tweet.ID, 0.9, "asks for recs", true); err != nil {
		t.Fatalf("SetTweetClassification failed: %v", err)
	}
	return tweet
}

func keywordWeight(t *testing.T, st *store.Store, episodeID int64, term string) float64 {
	t.Helper()
	keywords, err := st.Keywords(context.Background(), episodeID, false)
	if err != nil {
		t.Fatalf("Keywords failed: %v", err)
	}
	for _, kw := range keywords {
		if kw.Term == term {
			return kw.Weight
		}
	}
	t.Fatalf("keyword %q not found", term)
	return 0
}

func TestApproveRewardsKeywordsAndAudits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Review")
	tweet := seedTweetWithKeywords(t, st, episode.ID)

	ctx := context.Background()
	draft, err := st.CreateDraft(ctx, tweet.ID, "try our episode", "test-model")
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}

	svc := review.NewService(cfg, st, nil)
	approved, err := svc.Approve(ctx, draft.ID, "Try our latest episode!")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != store.DraftApproved {
		t.Fatalf("expected approved status, got %s", approved.Status)
	}

	want := 0.5 + cfg.Review.ApproveReward
	if got := keywordWeight(t, st, episode.ID, "golang"); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected keyword weight %.2f after approval, got %.2f", want, got)
	}

	entries, err := st.ListAudit(ctx, store.AuditFilter{Action: "draft_approved"})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
}

func TestRejectPenalizesLessThanTrueReject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if cfg.Review.TrueRejectPenalty <= cfg.Review.RejectPenalty {
		t.Fatalf("config invariant broken: true reject penalty %v <= reject penalty %v",
			cfg.Review.TrueRejectPenalty, cfg.Review.RejectPenalty)
	}
	episode := testsupport.NewEpisode(t, st, "Penalties")
	tweet := seedTweetWithKeywords(t, st, episode.ID)

	ctx := context.Background()
	first, err := st.CreateDraft(ctx, tweet.ID, "first attempt", "test-model")
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}

	svc := review.NewService(cfg, st, nil)
	if _, err := svc.Reject(ctx, first.ID, "too salesy"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	afterReject := keywordWeight(t, st, episode.ID, "golang")
	if want := 0.5 - cfg.Review.RejectPenalty; math.Abs(afterReject-want) > 1e-9 {
		t.Fatalf("expected weight %.2f after reject, got %.2f", want, afterReject)
	}

	// Tweet reverted to relevant, so a fresh draft is allowed.
	second, err := st.CreateDraft(ctx, tweet.ID, "second attempt", "test-model")
	if err != nil {
		t.Fatalf("CreateDraft after reject failed: %v", err)
	}
	if _, err := svc.TrueReject(ctx, second.ID, "wrong audience entirely"); err != nil {
		t.Fatalf("TrueReject failed: %v", err)
	}
	afterTrueReject := keywordWeight(t, st, episode.ID, "golang")
	if want := afterReject - cfg.Review.TrueRejectPenalty; math.Abs(afterTrueReject-want) > 1e-9 {
		t.Fatalf("expected weight %.2f after true reject, got %.2f", want, afterTrueReject)
	}

	got, err := st.GetTweet(ctx, tweet.ID)
	if err != nil {
		t.Fatalf("GetTweet failed: %v", err)
	}
	if got.Status != store.TweetSkip {
		t.Fatalf("expected skipped tweet after true reject, got %s", got.Status)
	}
	if _, err := st.CreateDraft(ctx, tweet.ID, "third attempt", "test-model"); err == nil {
		t.Fatal("expected drafting against a skipped tweet to fail")
	}
}

func TestRejectLastPendingRevertsTweet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Partial Reject")
	tweet := seedTweetWithKeywords(t, st, episode.ID)

	ctx := context.Background()
	old, err := st.CreateDraft(ctx, tweet.ID, "old", "test-model")
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	replacement, err := st.CreateDraft(ctx, tweet.ID, "replacement", "test-model")
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	_ = old

	svc := review.NewService(cfg, st, nil)
	if _, err := svc.Reject(ctx, replacement.ID, "meh"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	// The only pending draft is gone, so the tweet must be relevant again.
	got, err := st.GetTweet(ctx, tweet.ID)
	if err != nil {
		t.Fatalf("GetTweet failed: %v", err)
	}
	if got.Status != store.TweetRelevant {
		t.Fatalf("expected relevant tweet after last pending draft rejected, got %s", got.Status)
	}
	if got.Score != 0.9 {
		t.Fatalf("reject must not touch the relevance score, got %v", got.Score)
	}
}

func TestScheduleRefusesPastTarget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Schedule")
	tweet := seedTweetWithKeywords(t, st, episode.ID)

	ctx := context.Background()
	draft, err := st.CreateDraft(ctx, tweet.ID, "schedule me", "test-model")
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}

	svc := review.NewService(cfg, st, nil)
	_, _, err = svc.Schedule(ctx, draft.ID, time.Now().Add(-time.Hour), "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for past target, got %v", err)
	}

	at := time.Now().Add(time.Hour)
	scheduled, intent, err := svc.Schedule(ctx, draft.ID, at, "final wording")
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if scheduled.Status != store.DraftScheduled {
		t.Fatalf("expected scheduled draft, got %s", scheduled.Status)
	}
	if intent.Text != "final wording" {
		t.Fatalf("expected intent to carry final text, got %q", intent.Text)
	}

	entries, err := st.ListAudit(ctx, store.AuditFilter{Action: "draft_scheduled"})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one schedule audit entry, got %d", len(entries))
	}
}
