package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"soundbite/internal/runner"
	"soundbite/internal/store"
)

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

type startRequest struct {
	Force         bool   `json:"force"`
	FromStage     string `json:"from_stage"`
	SkipRespond   bool   `json:"skip_respond"`
	TargetResults int64  `json:"target_results"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.runner.Start(r.Context(), episodeID, runner.StartOptions{
		Force:         req.Force,
		FromStage:     req.FromStage,
		SkipRespond:   req.SkipRespond,
		TargetResults: req.TargetResults,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, fromRun(run))
}

func (s *Server) handlePipelineState(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	ctx := r.Context()
	episode, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := PipelineStateResponse{Episode: fromEpisode(episode)}

	run, err := s.store.LatestRun(ctx, episodeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeServiceError(w, err)
		return
	}
	if run != nil {
		view := fromRun(run)
		resp.Run = &view
		runErrors, rerr := s.store.RunErrors(ctx, run.ID)
		if rerr != nil {
			s.writeServiceError(w, rerr)
			return
		}
		for _, re := range runErrors {
			resp.RunErrors = append(resp.RunErrors, fromRunError(re))
		}
	}

	tweets, err := s.store.TweetsForEpisode(ctx, episodeID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	for _, tweet := range tweets {
		drafts, derr := s.store.DraftsForTweet(ctx, tweet.ID)
		if derr != nil {
			s.writeServiceError(w, derr)
			return
		}
		resp.Tweets = append(resp.Tweets, fromTweet(tweet, drafts))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type resetStuckRequest struct {
	OlderThanMinutes int  `json:"older_than_minutes"`
	DryRun           bool `json:"dry_run"`
}

func (s *Server) handleResetStuck(w http.ResponseWriter, r *http.Request) {
	var req resetStuckRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stuck, err := s.runner.ResetStuck(r.Context(), time.Duration(req.OlderThanMinutes)*time.Minute, req.DryRun)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"episodes": stuck})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	result, err := s.runner.Kill(r.Context(), episodeID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	type killFailureView struct {
		PID   int    `json:"pid"`
		Scope string `json:"scope"`
		Error string `json:"error"`
	}
	failed := make([]killFailureView, 0, len(result.Failed))
	for _, f := range result.Failed {
		view := killFailureView{PID: f.PID, Scope: f.Scope}
		if f.Err != nil {
			view.Error = f.Err.Error()
		}
		failed = append(failed, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"killed": result.Killed,
		"failed": failed,
	})
}

type estimateRequest struct {
	Keywords      []string `json:"keywords"`
	TargetResults int64    `json:"target_results"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	var req estimateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	estimate, err := s.runner.EstimateDiscovery(r.Context(), episodeID, req.Keywords, req.TargetResults)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, estimate)
}
