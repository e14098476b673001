package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"soundbite/internal/store"
	"soundbite/internal/testsupport"
)

func TestOpenAppliesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	episode, err := st.CreateEpisode(ctx, "Episode 42", "")
	if err != nil {
		t.Fatalf("CreateEpisode failed: %v", err)
	}
	if episode.ID == 0 {
		t.Fatal("expected episode ID to be assigned")
	}
	if episode.Status != store.EpisodeNoInput {
		t.Fatalf("expected new episode in no_input, got %s", episode.Status)
	}

	fetched, err := st.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if fetched.Title != "Episode 42" || fetched.Variant != "full" {
		t.Fatalf("unexpected fetched episode: %#v", fetched)
	}
}

func TestCreateEpisodeRequiresTitle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if _, err := st.CreateEpisode(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error when title missing")
	}
}

func TestFingerprintRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Fingerprints")

	ctx := context.Background()
	fp := store.Fingerprint{
		EpisodeID: episode.ID,
		Artifact:  "transcript",
		Hash:      "abc123",
	}
	if err := st.UpsertFingerprint(ctx, fp); err != nil {
		t.Fatalf("UpsertFingerprint failed: %v", err)
	}
	fp.Hash = "def456"
	if err := st.UpsertFingerprint(ctx, fp); err != nil {
		t.Fatalf("second UpsertFingerprint failed: %v", err)
	}

	current, err := st.Fingerprints(ctx, episode.ID)
	if err != nil {
		t.Fatalf("Fingerprints failed: %v", err)
	}
	got, ok := current["transcript"]
	if !ok {
		t.Fatal("expected transcript fingerprint")
	}
	if got.Hash != "def456" {
		t.Fatalf("expected upsert to replace hash, got %q", got.Hash)
	}
}

func TestStageCompletionSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Completions")

	ctx := context.Background()
	rec := store.StageRecord{
		EpisodeID: episode.ID,
		Stage:     "summarize",
		Inputs:    map[string]string{"transcript": "abc"},
		Outputs:   map[string]string{"summary": "def", "keyword_set": "ghi"},
	}
	if err := st.RecordStageCompletion(ctx, rec); err != nil {
		t.Fatalf("RecordStageCompletion failed: %v", err)
	}

	stored, err := st.StageCompletion(ctx, episode.ID, "summarize")
	if err != nil {
		t.Fatalf("StageCompletion failed: %v", err)
	}
	if stored == nil {
		t.Fatal("expected a completion record")
	}
	if stored.Inputs["transcript"] != "abc" || stored.Outputs["summary"] != "def" {
		t.Fatalf("unexpected snapshot: %#v", stored)
	}

	if err := st.ClearStageCompletions(ctx, episode.ID); err != nil {
		t.Fatalf("ClearStageCompletions failed: %v", err)
	}
	stored, err = st.StageCompletion(ctx, episode.ID, "summarize")
	if err != nil {
		t.Fatalf("StageCompletion after clear failed: %v", err)
	}
	if stored != nil {
		t.Fatalf("expected completion cleared, got %#v", stored)
	}
}

func TestRunStatusTerminalIsImmutable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Runs")

	ctx := context.Background()
	run, err := st.CreateRun(ctx, "run-1", episode.ID, "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != store.RunQueued {
		t.Fatalf("expected queued run, got %s", run.Status)
	}

	for _, status := range []store.RunStatus{store.RunRunning, store.RunValidating, store.RunCompleted} {
		if err := st.SetRunStatus(ctx, run.ID, status, ""); err != nil {
			t.Fatalf("SetRunStatus(%s) failed: %v", status, err)
		}
	}

	if err := st.SetRunStatus(ctx, run.ID, store.RunFailed, "late failure"); err == nil {
		t.Fatal("expected terminal run status to be immutable")
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != store.RunCompleted {
		t.Fatalf("expected run to stay completed, got %s", got.Status)
	}
}

func TestActiveRunIgnoresTerminalRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Active")

	ctx := context.Background()
	if _, err := st.CreateRun(ctx, "run-done", episode.ID, ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := st.SetRunStatus(ctx, "run-done", store.RunFailed, "boom"); err != nil {
		t.Fatalf("SetRunStatus failed: %v", err)
	}

	active, err := st.ActiveRun(ctx, episode.ID)
	if err != nil {
		t.Fatalf("ActiveRun failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active run, got %#v", active)
	}

	if _, err := st.CreateRun(ctx, "run-live", episode.ID, ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	active, err = st.ActiveRun(ctx, episode.ID)
	if err != nil {
		t.Fatalf("ActiveRun failed: %v", err)
	}
	if active == nil || active.ID != "run-live" {
		t.Fatalf("expected run-live active, got %#v", active)
	}
}

func TestKeywordsOrderedByWeightThenPosition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Keywords")

	ctx := context.Background()
	seed := []struct {
		term     string
		weight   float64
		position int
	}{
		{"alpha", 0.5, 0},
		{"beta", 0.9, 1},
		{"gamma", 0.5, 2},
		{"delta", 0.9, 3},
	}
	for _, kw := range seed {
		if err := st.UpsertKeyword(ctx, episode.ID, kw.term, kw.weight, true, kw.position); err != nil {
			t.Fatalf("UpsertKeyword(%s) failed: %v", kw.term, err)
		}
	}

	keywords, err := st.Keywords(ctx, episode.ID, true)
	if err != nil {
		t.Fatalf("Keywords failed: %v", err)
	}
	var got []string
	for _, kw := range keywords {
		got = append(got, kw.Term)
	}
	want := []string{"beta", "delta", "alpha", "gamma"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected ordering: got %v want %v", got, want)
	}
}

func TestPenalizeKeywordsClampsAtZero(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Penalty")

	ctx := context.Background()
	if err := st.UpsertKeyword(ctx, episode.ID, "fragile", 0.1, true, 0); err != nil {
		t.Fatalf("UpsertKeyword failed: %v", err)
	}
	if _, err := st.PenalizeKeywords(ctx, episode.ID, []string{"fragile"}, 0.5); err != nil {
		t.Fatalf("PenalizeKeywords failed: %v", err)
	}

	keywords, err := st.Keywords(ctx, episode.ID, false)
	if err != nil {
		t.Fatalf("Keywords failed: %v", err)
	}
	if len(keywords) != 1 || keywords[0].Weight != 0 {
		t.Fatalf("expected weight clamped at zero, got %#v", keywords)
	}
}

func TestInsertTweetDeduplicatesByExternalID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Tweets")

	ctx := context.Background()
	first, err := st.InsertTweet(ctx, store.Tweet{
		EpisodeID:  episode.ID,
		ExternalID: "tw-1",
		Author:     "someone",
		Text:       "original text",
	})
	if err != nil {
		t.Fatalf("InsertTweet failed: %v", err)
	}
	second, err := st.InsertTweet(ctx, store.Tweet{
		EpisodeID:  episode.ID,
		ExternalID: "tw-1",
		Author:     "someone",
		Text:       "duplicate fetch",
	})
	if err != nil {
		t.Fatalf("duplicate InsertTweet failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate insert to return existing row, got %d and %d", first.ID, second.ID)
	}
	if second.Text != "original text" {
		t.Fatalf("expected original text preserved, got %q", second.Text)
	}
}

func TestSetTweetClassificationOnlyFromUnclassified(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "Classify")
	tweet := testsupport.NewRelevantTweet(t, st, episode.ID, "tw-guard")

	ctx := context.Background()
	if err := st.SetTweetClassification(ctx, tweet.ID, 0.1, "changed my mind", false); err == nil {
		t.Fatal("expected reclassification of a classified tweet to fail")
	}
	got, err := st.GetTweet(ctx, tweet.ID)
	if err != nil {
		t.Fatalf("GetTweet failed: %v", err)
	}
	if got.Status != store.TweetRelevant || got.Score != 0.9 {
		t.Fatalf("expected classification preserved, got %#v", got)
	}
}

func TestReserveUsageGuardsLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := store.UsagePeriod(time.Now())
	if err := st.ReserveUsage(ctx, period, 80, 100); err != nil {
		t.Fatalf("first ReserveUsage failed: %v", err)
	}
	err := st.ReserveUsage(ctx, period, 30, 100)
	if !errors.Is(err, store.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	calls, err := st.UsageForPeriod(ctx, period)
	if err != nil {
		t.Fatalf("UsageForPeriod failed: %v", err)
	}
	if calls != 80 {
		t.Fatalf("expected refused reservation to leave counter at 80, got %d", calls)
	}

	if err := st.ReleaseUsage(ctx, period, 30); err != nil {
		t.Fatalf("ReleaseUsage failed: %v", err)
	}
	if err := st.ReserveUsage(ctx, period, 30, 100); err != nil {
		t.Fatalf("ReserveUsage after release failed: %v", err)
	}
}

func TestAuditListFiltersAndOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entries := []struct {
		action   string
		resource string
		id       string
	}{
		{"draft_approved", "draft", "1"},
		{"draft_rejected", "draft", "2"},
		{"run_started", "run", "run-1"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e.action, e.resource, e.id, ""); err != nil {
			t.Fatalf("AppendAudit(%s) failed: %v", e.action, err)
		}
	}

	records, err := st.ListAudit(ctx, store.AuditFilter{ResourceType: "draft"})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 draft records, got %d", len(records))
	}
	if records[0].Action != "draft_rejected" {
		t.Fatalf("expected newest first, got %s", records[0].Action)
	}
}
