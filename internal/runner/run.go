package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"soundbite/internal/budget"
	"soundbite/internal/executor"
	"soundbite/internal/logging"
	"soundbite/internal/pipeline"
	"soundbite/internal/services"
	"soundbite/internal/store"
)

func (r *Runner) execute(ctx context.Context, episode *store.Episode, run *store.Run, stages []pipeline.Stage, opts StartOptions) {
	ctx = runContext(ctx, episode.ID, run.ID)
	log := logging.WithContext(ctx, r.logger)
	started := time.Now()

	if err := r.store.SetRunStatus(ctx, run.ID, store.RunRunning, ""); err != nil {
		log.Error("failed to mark run running", logging.Error(err))
		return
	}
	log.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("variant", episode.Variant),
		logging.Bool("force", opts.Force))
	if err := r.notifier.NotifyRunStarted(ctx, episode.Title); err != nil {
		log.Debug("run start notification failed", logging.Error(err))
	}

	for i, stage := range stages {
		select {
		case <-ctx.Done():
			r.failRun(ctx, log, episode, run, stage.Name, services.Wrap(services.ErrTransient, "runner", "execute",
				"daemon shut down mid-run", ctx.Err()))
			return
		default:
		}

		progress := float64(i) / float64(len(stages)) * 100
		if err := r.store.UpdateRunProgress(ctx, run.ID, stage.Name, progress, nil); err != nil {
			log.Warn("failed to update run progress", logging.Error(err))
		}
		if stage.Terminal {
			if err := r.store.SetRunStatus(ctx, run.ID, store.RunValidating, ""); err != nil {
				log.Warn("failed to mark run validating", logging.Error(err))
			}
		}

		if err := r.runStage(ctx, log, episode, run, stage, opts); err != nil {
			r.failRun(ctx, log, episode, run, stage.Name, err)
			return
		}
	}

	if err := r.store.UpdateRunProgress(ctx, run.ID, "", 100, nil); err != nil {
		log.Warn("failed to update run progress", logging.Error(err))
	}
	if err := r.store.SetRunStatus(ctx, run.ID, store.RunCompleted, ""); err != nil {
		log.Error("failed to mark run completed", logging.Error(err))
	}
	if err := r.store.SetEpisodeStatus(ctx, episode.ID, store.EpisodeReady); err != nil {
		log.Error("failed to mark episode ready", logging.Error(err))
	}
	if err := r.store.AppendAudit(ctx, "run_completed", "run", run.ID, ""); err != nil {
		log.Warn("audit append failed", logging.Error(err))
	}

	duration := time.Since(started)
	log.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Duration("duration", duration))
	if err := r.notifier.NotifyRunCompleted(ctx, episode.Title, duration); err != nil {
		log.Debug("run completion notification failed", logging.Error(err))
	}
	r.notifyReviewNeeded(ctx, log, episode)
}

func (r *Runner) runStage(ctx context.Context, log *slog.Logger, episode *store.Episode, run *store.Run, stage pipeline.Stage, opts StartOptions) error {
	stageCtx := services.WithStage(ctx, stage.Name)
	stageLog := logging.WithContext(stageCtx, log)

	if !opts.Force {
		decision, err := pipeline.StageCacheValid(stageCtx, r.store, episode.ID, stage)
		if err != nil {
			return err
		}
		if decision.Valid {
			stageLog.Info("stage served from cache",
				logging.String(logging.FieldEventType, "stage_cached"),
				logging.String("reason", decision.Reason))
			return nil
		}
	}

	if stage.Skippable && opts.SkipRespond {
		stageLog.Info("stage skipped by gate", logging.String(logging.FieldEventType, "stage_skipped"))
		if err := r.store.AppendAudit(stageCtx, "stage_skipped", "run", run.ID, stage.Name); err != nil {
			stageLog.Warn("audit append failed", logging.Error(err))
		}
		return nil
	}

	current, err := r.store.Fingerprints(stageCtx, episode.ID)
	if err != nil {
		return err
	}
	inputs := make(map[string]string, len(stage.Inputs))
	inputHashes := make(map[string]string, len(stage.Inputs))
	for _, name := range stage.Inputs {
		fp, ok := current[name]
		if !ok {
			return services.Wrap(services.ErrValidation, "runner", "run stage",
				fmt.Sprintf("stage %s needs artifact %s which has not been produced", stage.Name, name), nil)
		}
		inputs[name] = pipeline.ArtifactPath(r.cfg, episode.ID, name)
		inputHashes[name] = fp.Hash
	}

	req := executor.Request{
		EpisodeID:       episode.ID,
		Stage:           stage.Name,
		RunID:           run.ID,
		Inputs:          inputs,
		ExpectedOutputs: stage.Outputs,
	}

	var granted int64
	if stage.Name == pipeline.StageDiscover {
		grant, plan, err := r.planDiscovery(stageCtx, stageLog, episode, opts.TargetResults)
		if err != nil {
			return err
		}
		req.Budget = grant
		granted = plan.TotalCalls
	}

	result, err := r.invokeWithRetries(stageCtx, stageLog, episode, run, stage, req)
	if err != nil {
		if granted > 0 {
			if relErr := r.ledger.Release(stageCtx, granted); relErr != nil {
				stageLog.Warn("failed to release unused budget", logging.Error(relErr))
			}
		}
		return err
	}
	r.reconcileUsage(stageCtx, stageLog, granted, result.Usage.Calls)

	for _, name := range stage.Outputs {
		fp, err := pipeline.WriteArtifact(r.cfg, episode.ID, name, result.Artifacts[name])
		if err != nil {
			return services.Wrap(services.ErrTransient, "runner", "run stage",
				fmt.Sprintf("failed to persist artifact %s", name), err)
		}
		if err := r.store.UpsertFingerprint(stageCtx, fp); err != nil {
			return err
		}
		current[name] = fp
	}

	for _, name := range stage.Outputs {
		if name == pipeline.ArtifactKeywordSet {
			if err := r.ingestKeywords(stageCtx, stageLog, episode); err != nil {
				return err
			}
		}
	}
	if stage.Terminal {
		if err := r.ingestReviewRows(stageCtx, stageLog, episode); err != nil {
			return err
		}
	}

	outputHashes := make(map[string]string, len(stage.Outputs))
	for _, name := range stage.Outputs {
		outputHashes[name] = current[name].Hash
	}
	if err := r.store.RecordStageCompletion(stageCtx, store.StageRecord{
		EpisodeID: episode.ID,
		Stage:     stage.Name,
		Inputs:    inputHashes,
		Outputs:   outputHashes,
	}); err != nil {
		return err
	}

	stageLog.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int64("api_calls", result.Usage.Calls))
	return nil
}

func (r *Runner) invokeWithRetries(ctx context.Context, log *slog.Logger, episode *store.Episode, run *store.Run, stage pipeline.Stage, req executor.Request) (*executor.Result, error) {
	retryLimit := r.cfg.Pipeline.RetryLimit
	if retryLimit < 0 {
		retryLimit = 0
	}

	var lastErr error
	for attempt := 1; attempt <= retryLimit+1; attempt++ {
		result, err := r.invoker.Invoke(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if auditErr := r.store.AppendRunError(ctx, store.RunError{
			EpisodeID:      episode.ID,
			RunID:          run.ID,
			Stage:          stage.Name,
			Classification: services.Classify(err),
			Message:        err.Error(),
			Attempt:        attempt,
			RecoveryHint:   services.RecoveryHint(err),
		}); auditErr != nil {
			log.Warn("failed to record run error", logging.Error(auditErr))
		}

		if !services.Retryable(err) || attempt > retryLimit {
			break
		}
		backoff := time.Duration(attempt) * time.Second
		log.Warn("stage attempt failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", backoff),
			logging.Error(err))
		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrTransient, "runner", "invoke", "run interrupted", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (r *Runner) planDiscovery(ctx context.Context, log *slog.Logger, episode *store.Episode, targetResults int64) (*executor.BudgetGrant, budget.Plan, error) {
	keywords, err := r.store.Keywords(ctx, episode.ID, true)
	if err != nil {
		return nil, budget.Plan{}, err
	}
	if len(keywords) == 0 {
		return nil, budget.Plan{}, services.Wrap(services.ErrValidation, "runner", "plan discovery",
			"episode has no enabled keywords; run summarize first or add keywords", nil)
	}

	snapshot, err := r.ledger.Snapshot(ctx)
	if err != nil {
		return nil, budget.Plan{}, err
	}
	plan := r.planner.Plan(keywords, targetResults, snapshot)
	if plan.TotalCalls == 0 {
		return nil, plan, services.Wrap(services.ErrBudget, "runner", "plan discovery",
			fmt.Sprintf("period %s quota leaves no searchable keywords", snapshot.Period), nil)
	}
	if err := r.ledger.Reserve(ctx, plan.TotalCalls); err != nil {
		return nil, plan, err
	}

	if len(plan.NotSearched) > 0 {
		log.Warn("budget shortfall leaves keywords unsearched",
			logging.Any("not_searched", plan.NotSearched))
		if err := r.notifier.NotifyBudgetShortfall(ctx, episode.Title, plan.NotSearched); err != nil {
			log.Debug("budget shortfall notification failed", logging.Error(err))
		}
	}

	grant := &executor.BudgetGrant{
		TotalCalls:  plan.TotalCalls,
		PerKeyword:  make(map[string]int64, len(plan.Allocations)),
		NotSearched: plan.NotSearched,
	}
	for _, alloc := range plan.Allocations {
		if alloc.Granted > 0 {
			grant.PerKeyword[alloc.Term] = alloc.Granted
		}
	}
	return grant, plan, nil
}

// reconcileUsage trues the ledger up against what the worker actually spent.
func (r *Runner) reconcileUsage(ctx context.Context, log *slog.Logger, granted, actual int64) {
	switch {
	case granted == 0 && actual == 0:
	case actual < granted:
		if err := r.ledger.Release(ctx, granted-actual); err != nil {
			log.Warn("failed to release unused budget", logging.Error(err))
		}
	case actual > granted:
		log.Warn("worker overran its budget grant",
			logging.Int64("granted", granted),
			logging.Int64("actual", actual))
		if err := r.ledger.Record(ctx, actual-granted); err != nil {
			log.Warn("failed to record budget overrun", logging.Error(err))
		}
	}
}

func (r *Runner) failRun(ctx context.Context, log *slog.Logger, episode *store.Episode, run *store.Run, stage string, err error) {
	log.Error("run failed",
		logging.String(logging.FieldEventType, "run_failure"),
		logging.String(logging.FieldStage, stage),
		logging.String("classification", services.Classify(err)),
		logging.String(logging.FieldErrorHint, services.RecoveryHint(err)),
		logging.Error(err))

	// An operator kill fails the run from the reset path before the worker
	// exit reaches us. That run is already terminal and already audited.
	if current, getErr := r.store.GetRun(ctx, run.ID); getErr == nil && current.Status.Terminal() {
		log.Debug("run already terminal, skipping failure bookkeeping",
			logging.String("status", string(current.Status)))
		return
	}

	if setErr := r.store.SetRunStatus(ctx, run.ID, store.RunFailed, err.Error()); setErr != nil {
		log.Error("failed to mark run failed", logging.Error(setErr))
	}
	if setErr := r.store.SetEpisodeStatus(ctx, episode.ID, store.EpisodeError); setErr != nil {
		log.Error("failed to mark episode errored", logging.Error(setErr))
	}
	if auditErr := r.store.AppendAudit(ctx, "run_failed", "run", run.ID, err.Error()); auditErr != nil {
		log.Warn("audit append failed", logging.Error(auditErr))
	}
	if notifyErr := r.notifier.NotifyRunFailed(ctx, episode.Title, err); notifyErr != nil {
		log.Debug("run failure notification failed", logging.Error(notifyErr))
	}
}

func (r *Runner) notifyReviewNeeded(ctx context.Context, log *slog.Logger, episode *store.Episode) {
	tweets, err := r.store.TweetsForEpisode(ctx, episode.ID, store.TweetDrafted)
	if err != nil {
		log.Warn("failed to count drafted tweets", logging.Error(err))
		return
	}
	if len(tweets) == 0 {
		return
	}
	if err := r.notifier.NotifyReviewNeeded(ctx, episode.Title, len(tweets)); err != nil {
		log.Debug("review notification failed", logging.Error(err))
	}
}
