package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soundbite/internal/budget"
	"soundbite/internal/config"
	"soundbite/internal/executor"
	"soundbite/internal/pipeline"
	"soundbite/internal/proctrack"
	"soundbite/internal/runner"
	"soundbite/internal/services"
	"soundbite/internal/store"
	"soundbite/internal/testsupport"
)

func writeWorker(t *testing.T, cfg *config.Config, stage, result string) {
	t.Helper()
	if err := os.MkdirAll(cfg.Paths.WorkersDir, 0o755); err != nil {
		t.Fatalf("mkdir workers: %v", err)
	}
	script := "#!/bin/sh\ncat >/dev/null\ncat <<'EOF'\n" + result + "\nEOF\n"
	path := filepath.Join(cfg.Paths.WorkersDir, "soundbite-worker-"+stage)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
}

func writeFullPipelineWorkers(t *testing.T, cfg *config.Config) {
	t.Helper()
	writeWorker(t, cfg, "summarize", `{"ok":true,"artifacts":{"summary":{"text":"a short pitch"},"keyword_set":[{"term":"golang","weight":0.9},{"term":"podcast","weight":0.5}]},"usage":{"calls":0,"tokens":900}}`)
	writeWorker(t, cfg, "discover", `{"ok":true,"artifacts":{"post_batch":[{"external_id":"tw-1","author":"gopher","text":"looking for a go podcast"},{"external_id":"tw-2","author":"cat","text":"cats are great"}]},"usage":{"calls":2}}`)
	writeWorker(t, cfg, "classify", `{"ok":true,"artifacts":{"classification_batch":[{"external_id":"tw-1","author":"gopher","text":"looking for a go podcast","keywords":["golang"],"score":0.92,"rationale":"asks for recommendations","relevant":true},{"external_id":"tw-2","author":"cat","text":"cats are great","score":0.05,"rationale":"off topic","relevant":false}]},"usage":{"calls":0,"tokens":300}}`)
	writeWorker(t, cfg, "respond", `{"ok":true,"artifacts":{"draft_batch":[{"external_id":"tw-1","text":"You might enjoy our latest episode on Go tooling","model":"test-model"}]},"usage":{"calls":0,"tokens":150}}`)
	writeWorker(t, cfg, "moderate", `{"ok":true,"artifacts":{},"usage":{"calls":0}}`)
}

func uploadTranscript(t *testing.T, cfg *config.Config, st *store.Store, episodeID int64, text string) {
	t.Helper()
	fp, err := pipeline.WriteArtifact(cfg, episodeID, pipeline.ArtifactTranscript, []byte(text))
	if err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}
	if err := st.UpsertFingerprint(context.Background(), fp); err != nil {
		t.Fatalf("UpsertFingerprint failed: %v", err)
	}
}

func newRunner(t *testing.T, cfg *config.Config, st *store.Store) *runner.Runner {
	t.Helper()
	tracker := proctrack.New(nil)
	invoker := executor.New(cfg, tracker, nil)
	ledger := budget.NewStoreLedger(st, cfg.Budget.PeriodLimit)
	r := runner.New(cfg, st, tracker, invoker, ledger, nil, nil)
	t.Cleanup(r.Stop)
	return r
}

func waitForRun(t *testing.T, st *store.Store, runID string) *store.Run {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		run, err := st.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status.Terminal() {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not finish, status %s", runID, run.Status)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestFullRunProducesReviewRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)

	episode := testsupport.NewEpisode(t, st, "Go Tooling Episode")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(context.Background(), episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", finished.Status, finished.ErrorMessage)
	}
	if finished.Progress != 100 {
		t.Fatalf("expected 100%% progress, got %v", finished.Progress)
	}

	ctx := context.Background()
	got, err := st.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Status != store.EpisodeReady {
		t.Fatalf("expected episode ready, got %s", got.Status)
	}

	keywords, err := st.Keywords(ctx, episode.ID, true)
	if err != nil {
		t.Fatalf("Keywords failed: %v", err)
	}
	if len(keywords) != 2 || keywords[0].Term != "golang" {
		t.Fatalf("unexpected keywords: %#v", keywords)
	}

	tweets, err := st.TweetsForEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("TweetsForEpisode failed: %v", err)
	}
	if len(tweets) != 2 {
		t.Fatalf("expected 2 tweets, got %d", len(tweets))
	}
	byExternal := map[string]*store.Tweet{}
	for _, tweet := range tweets {
		byExternal[tweet.ExternalID] = tweet
	}
	if byExternal["tw-1"].Status != store.TweetDrafted {
		t.Fatalf("expected tw-1 drafted, got %s", byExternal["tw-1"].Status)
	}
	if byExternal["tw-2"].Status != store.TweetSkip {
		t.Fatalf("expected tw-2 skipped, got %s", byExternal["tw-2"].Status)
	}

	drafts, err := st.DraftsForTweet(ctx, byExternal["tw-1"].ID)
	if err != nil {
		t.Fatalf("DraftsForTweet failed: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Status != store.DraftPending {
		t.Fatalf("expected one pending draft, got %#v", drafts)
	}

	// Discover actually spent two calls against the ledger.
	used, err := st.UsageForPeriod(ctx, store.UsagePeriod(time.Now()))
	if err != nil {
		t.Fatalf("UsageForPeriod failed: %v", err)
	}
	if used != 2 {
		t.Fatalf("expected 2 calls recorded, got %d", used)
	}
}

func TestSecondStartReturnsAlreadyRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	// Make summarize slow enough for the overlap check.
	path := filepath.Join(cfg.Paths.WorkersDir, "soundbite-worker-summarize")
	script := "#!/bin/sh\ncat >/dev/null\nsleep 2\necho '{\"ok\":true,\"artifacts\":{\"summary\":{},\"keyword_set\":[{\"term\":\"golang\",\"weight\":0.9}]},\"usage\":{\"calls\":0}}'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}

	episode := testsupport.NewEpisode(t, st, "Overlap")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(context.Background(), episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := r.Start(context.Background(), episode.ID, runner.StartOptions{}); !errors.Is(err, runner.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	waitForRun(t, st, run.ID)
}

func TestStartRequiresTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "No Input")

	r := newRunner(t, cfg, st)
	if _, err := r.Start(context.Background(), episode.ID, runner.StartOptions{}); err == nil {
		t.Fatal("expected start without transcript to fail")
	}
}

func TestCachedStagesSkippedOnRerun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)

	episode := testsupport.NewEpisode(t, st, "Rerun")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	ctx := context.Background()
	r := newRunner(t, cfg, st)
	first, err := r.Start(ctx, episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	waitForRun(t, st, first.ID)

	// Break summarize: a cache hit means it is never invoked again.
	writeWorker(t, cfg, "summarize", `{"ok":false,"error":"must not be called"}`)

	second, err := r.Start(ctx, episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	finished := waitForRun(t, st, second.ID)
	if finished.Status != store.RunCompleted {
		t.Fatalf("expected rerun to complete from cache, got %s (%s)", finished.Status, finished.ErrorMessage)
	}

	// Discover is never cached, so its two calls were spent twice.
	used, err := st.UsageForPeriod(ctx, store.UsagePeriod(time.Now()))
	if err != nil {
		t.Fatalf("UsageForPeriod failed: %v", err)
	}
	if used != 4 {
		t.Fatalf("expected 4 calls after two runs, got %d", used)
	}
}

func TestTransientFailureRetriesThenFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.RetryLimit = 1
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	writeWorker(t, cfg, "discover", `{"ok":false,"error":"search API down","error_class":"transient"}`)

	episode := testsupport.NewEpisode(t, st, "Flaky")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(context.Background(), episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunFailed {
		t.Fatalf("expected failed run, got %s", finished.Status)
	}

	ctx := context.Background()
	runErrors, err := st.RunErrors(ctx, run.ID)
	if err != nil {
		t.Fatalf("RunErrors failed: %v", err)
	}
	if len(runErrors) != 2 {
		t.Fatalf("expected one attempt per retry, got %d errors", len(runErrors))
	}
	for _, re := range runErrors {
		if re.Classification != "transient" {
			t.Fatalf("expected transient classification, got %s", re.Classification)
		}
	}

	got, err := st.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Status != store.EpisodeError {
		t.Fatalf("expected episode errored, got %s", got.Status)
	}
}

func TestValidationFailureDoesNotRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.RetryLimit = 3
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	writeWorker(t, cfg, "summarize", `{"ok":false,"error":"transcript is empty","error_class":"validation"}`)

	episode := testsupport.NewEpisode(t, st, "Bad Input")
	uploadTranscript(t, cfg, st, episode.ID, "")

	r := newRunner(t, cfg, st)
	run, err := r.Start(context.Background(), episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunFailed {
		t.Fatalf("expected failed run, got %s", finished.Status)
	}

	runErrors, err := st.RunErrors(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("RunErrors failed: %v", err)
	}
	if len(runErrors) != 1 {
		t.Fatalf("validation failures must not retry, got %d attempts", len(runErrors))
	}
}

func TestSkipRespondGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	writeWorker(t, cfg, "respond", `{"ok":false,"error":"must not be called"}`)

	episode := testsupport.NewEpisode(t, st, "No Drafts Please")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(context.Background(), episode.ID, runner.StartOptions{SkipRespond: true})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", finished.Status, finished.ErrorMessage)
	}

	ctx := context.Background()
	tweets, err := st.TweetsForEpisode(ctx, episode.ID, store.TweetRelevant)
	if err != nil {
		t.Fatalf("TweetsForEpisode failed: %v", err)
	}
	if len(tweets) != 1 {
		t.Fatalf("expected relevant tweet without draft, got %d", len(tweets))
	}
	drafts, err := st.DraftsForTweet(ctx, tweets[0].ID)
	if err != nil {
		t.Fatalf("DraftsForTweet failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("expected no drafts when respond skipped, got %d", len(drafts))
	}
}

func TestLeanVariantOmitsRespond(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	writeWorker(t, cfg, "respond", `{"ok":false,"error":"must not be called"}`)

	ctx := context.Background()
	episode, err := st.CreateEpisode(ctx, "Lean Episode", "lean")
	if err != nil {
		t.Fatalf("CreateEpisode failed: %v", err)
	}
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(ctx, episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", finished.Status, finished.ErrorMessage)
	}
}

func TestEstimateWithAdHocKeywords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	episode := testsupport.NewEpisode(t, st, "No Keywords Yet")

	r := newRunner(t, cfg, st)
	ctx := context.Background()

	if _, err := r.EstimateDiscovery(ctx, episode.ID, nil, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without keywords, got %v", err)
	}

	estimate, err := r.EstimateDiscovery(ctx, episode.ID, []string{"golang", "generics"}, 0)
	if err != nil {
		t.Fatalf("EstimateDiscovery failed: %v", err)
	}
	if len(estimate.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(estimate.Allocations))
	}
	if estimate.Allocations[0].Term != "golang" {
		t.Fatalf("expected given order preserved, got %q first", estimate.Allocations[0].Term)
	}
	if estimate.TotalCalls == 0 {
		t.Fatal("expected a non-zero plan")
	}
}

func TestNearDuplicatePostsSkipped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	writeWorker(t, cfg, "classify", `{"ok":true,"artifacts":{"classification_batch":[`+
		`{"external_id":"tw-1","author":"gopher","text":"the section on type inference in this episode finally made generics click for me","keywords":["golang"],"score":0.9,"rationale":"on topic","relevant":true},`+
		`{"external_id":"tw-2","author":"parrot","text":"RT @gopher the section on type inference in this episode finally made generics click for me https://pod.example/ep99","keywords":["golang"],"score":0.88,"rationale":"on topic","relevant":true},`+
		`{"external_id":"tw-3","author":"newbie","text":"anyone know a good podcast for learning go from scratch","keywords":["podcast"],"score":0.8,"rationale":"asks for recommendations","relevant":true}`+
		`]},"usage":{"calls":0,"tokens":300}}`)
	writeWorker(t, cfg, "respond", `{"ok":true,"artifacts":{"draft_batch":[{"external_id":"tw-1","text":"Glad it helped, the follow-up episode digs deeper","model":"test-model"}]},"usage":{"calls":0,"tokens":150}}`)

	episode := testsupport.NewEpisode(t, st, "Generics Episode")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(context.Background(), episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", finished.Status, finished.ErrorMessage)
	}

	ctx := context.Background()
	tweets, err := st.TweetsForEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("TweetsForEpisode failed: %v", err)
	}
	if len(tweets) != 3 {
		t.Fatalf("expected 3 tweets, got %d", len(tweets))
	}
	byExternal := make(map[string]*store.Tweet, len(tweets))
	for _, tw := range tweets {
		byExternal[tw.ExternalID] = tw
	}
	if got := byExternal["tw-1"].Status; got != store.TweetDrafted {
		t.Fatalf("expected tw-1 drafted, got %s", got)
	}
	dup := byExternal["tw-2"]
	if dup.Status != store.TweetSkip {
		t.Fatalf("expected quote-post tw-2 skipped, got %s", dup.Status)
	}
	if dup.Rationale != "near-duplicate of tw-1" {
		t.Fatalf("unexpected duplicate rationale: %q", dup.Rationale)
	}
	if got := byExternal["tw-3"].Status; got != store.TweetRelevant {
		t.Fatalf("expected tw-3 relevant, got %s", got)
	}
}

func TestResetStuck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	episode := testsupport.NewEpisode(t, st, "Stalled")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")
	if _, err := st.CreateRun(ctx, "run-stalled", episode.ID, ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := st.SetRunStatus(ctx, "run-stalled", store.RunRunning, ""); err != nil {
		t.Fatalf("SetRunStatus failed: %v", err)
	}
	if err := st.SetEpisodeStatus(ctx, episode.ID, store.EpisodeProcessing); err != nil {
		t.Fatalf("SetEpisodeStatus failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	r := newRunner(t, cfg, st)

	preview, err := r.ResetStuck(ctx, time.Millisecond, true)
	if err != nil {
		t.Fatalf("ResetStuck dry run failed: %v", err)
	}
	if len(preview) != 1 || preview[0].Reset {
		t.Fatalf("expected one untouched candidate, got %#v", preview)
	}
	got, err := st.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Status != store.EpisodeProcessing {
		t.Fatalf("dry run must not mutate, episode is %s", got.Status)
	}

	applied, err := r.ResetStuck(ctx, time.Millisecond, false)
	if err != nil {
		t.Fatalf("ResetStuck failed: %v", err)
	}
	if len(applied) != 1 || !applied[0].Reset {
		t.Fatalf("expected one reset episode, got %#v", applied)
	}
	got, err = st.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Status != store.EpisodeReady {
		t.Fatalf("expected episode ready after reset, got %s", got.Status)
	}
	run, err := st.GetRun(ctx, "run-stalled")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != store.RunFailed {
		t.Fatalf("expected stalled run failed, got %s", run.Status)
	}
}

func TestKillKeepsOperatorFailureRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)
	// Summarize hangs long enough for the operator kill to land first.
	path := filepath.Join(cfg.Paths.WorkersDir, "soundbite-worker-summarize")
	script := "#!/bin/sh\ncat >/dev/null\nsleep 10\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}

	ctx := context.Background()
	episode := testsupport.NewEpisode(t, st, "Killed Mid-Flight")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")

	r := newRunner(t, cfg, st)
	run, err := r.Start(ctx, episode.ID, runner.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		current, err := st.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if current.Status == store.RunRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never started, status %s", current.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := r.Kill(ctx, episode.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	finished := waitForRun(t, st, run.ID)
	if finished.Status != store.RunFailed {
		t.Fatalf("expected failed run, got %s", finished.Status)
	}
	if finished.ErrorMessage != "terminated by operator" {
		t.Fatalf("expected operator failure record to survive, got %q", finished.ErrorMessage)
	}
	time.Sleep(200 * time.Millisecond)

	// The run goroutine exits after the kill; it must not double-book the
	// failure on top of the operator's record.
	entries, err := st.ListAudit(ctx, store.AuditFilter{Action: "run_failed", ResourceID: run.ID})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no run_failed audit entries after kill, got %d", len(entries))
	}
}

func TestStartRefusedWhileEpisodeProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	writeFullPipelineWorkers(t, cfg)

	ctx := context.Background()
	episode := testsupport.NewEpisode(t, st, "Ghost Run")
	uploadTranscript(t, cfg, st, episode.ID, "transcript text")
	if err := st.SetEpisodeStatus(ctx, episode.ID, store.EpisodeProcessing); err != nil {
		t.Fatalf("SetEpisodeStatus failed: %v", err)
	}

	r := newRunner(t, cfg, st)
	if _, err := r.Start(ctx, episode.ID, runner.StartOptions{}); !errors.Is(err, runner.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning for processing episode, got %v", err)
	}
}
