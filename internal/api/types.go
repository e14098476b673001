package api

import (
	"time"

	"soundbite/internal/store"
)

// EpisodeView is the wire form of an episode.
type EpisodeView struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	Variant        string `json:"variant"`
	LastValidation string `json:"last_validation,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// RunView is the wire form of a pipeline run.
type RunView struct {
	ID            string  `json:"id"`
	EpisodeID     int64   `json:"episode_id"`
	Stage         string  `json:"stage,omitempty"`
	Progress      float64 `json:"progress"`
	Status        string  `json:"status"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	StartedAt     string  `json:"started_at"`
	EstimatedDone string  `json:"estimated_done,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// RunErrorView is one recorded stage failure.
type RunErrorView struct {
	Stage          string `json:"stage"`
	Classification string `json:"classification"`
	Message        string `json:"message"`
	Attempt        int    `json:"attempt"`
	RecoveryHint   string `json:"recovery_hint,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// TweetView is the wire form of a discovered post.
type TweetView struct {
	ID         int64       `json:"id"`
	EpisodeID  int64       `json:"episode_id"`
	ExternalID string      `json:"external_id"`
	Author     string      `json:"author,omitempty"`
	Text       string      `json:"text"`
	Engagement int64       `json:"engagement"`
	Score      float64     `json:"score"`
	Rationale  string      `json:"rationale,omitempty"`
	Status     string      `json:"status"`
	Keywords   []string    `json:"keywords,omitempty"`
	Drafts     []DraftView `json:"drafts,omitempty"`
}

// DraftView is the wire form of a candidate reply.
type DraftView struct {
	ID           int64  `json:"id"`
	TweetID      int64  `json:"tweet_id"`
	Text         string `json:"text"`
	FinalText    string `json:"final_text,omitempty"`
	Model        string `json:"model,omitempty"`
	Status       string `json:"status"`
	Superseded   bool   `json:"superseded"`
	ScheduledAt  string `json:"scheduled_at,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// KeywordView is the wire form of a search keyword.
type KeywordView struct {
	Term     string  `json:"term"`
	Weight   float64 `json:"weight"`
	Enabled  bool    `json:"enabled"`
	Position int     `json:"position"`
}

// AuditView is one audit trail entry.
type AuditView struct {
	ID           int64  `json:"id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Payload      string `json:"payload,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// BudgetView summarizes the current quota period.
type BudgetView struct {
	Period    string `json:"period"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
}

// StatusResponse is the daemon status surface rendered by the CLI.
type StatusResponse struct {
	Running    bool           `json:"running"`
	PID        int            `json:"pid"`
	StorePath  string         `json:"store_path"`
	Episodes   map[string]int `json:"episodes"`
	ActiveRuns []ActiveRun    `json:"active_runs,omitempty"`
	Budget     *BudgetView    `json:"budget,omitempty"`
}

// ActiveRun identifies one live stage process.
type ActiveRun struct {
	EpisodeID int64  `json:"episode_id"`
	Scope     string `json:"scope"`
	RunID     string `json:"run_id"`
	PID       int    `json:"pid"`
}

// PipelineStateResponse describes an episode's pipeline position.
type PipelineStateResponse struct {
	Episode   EpisodeView    `json:"episode"`
	Run       *RunView       `json:"run,omitempty"`
	RunErrors []RunErrorView `json:"run_errors,omitempty"`
	Tweets    []TweetView    `json:"tweets,omitempty"`
}

func wireTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fromEpisode(e *store.Episode) EpisodeView {
	return EpisodeView{
		ID:             e.ID,
		Title:          e.Title,
		Status:         string(e.Status),
		Variant:        e.Variant,
		LastValidation: e.LastValidation,
		CreatedAt:      wireTime(e.CreatedAt),
		UpdatedAt:      wireTime(e.UpdatedAt),
	}
}

func fromRun(r *store.Run) RunView {
	view := RunView{
		ID:           r.ID,
		EpisodeID:    r.EpisodeID,
		Stage:        r.Stage,
		Progress:     r.Progress,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		StartedAt:    wireTime(r.StartedAt),
		UpdatedAt:    wireTime(r.UpdatedAt),
	}
	if r.EstimatedDone != nil {
		view.EstimatedDone = wireTime(*r.EstimatedDone)
	}
	return view
}

func fromRunError(re store.RunError) RunErrorView {
	return RunErrorView{
		Stage:          re.Stage,
		Classification: re.Classification,
		Message:        re.Message,
		Attempt:        re.Attempt,
		RecoveryHint:   re.RecoveryHint,
		CreatedAt:      wireTime(re.CreatedAt),
	}
}

func fromTweet(t *store.Tweet, drafts []*store.Draft) TweetView {
	view := TweetView{
		ID:         t.ID,
		EpisodeID:  t.EpisodeID,
		ExternalID: t.ExternalID,
		Author:     t.Author,
		Text:       t.Text,
		Engagement: t.Engagement,
		Score:      t.Score,
		Rationale:  t.Rationale,
		Status:     string(t.Status),
		Keywords:   t.Keywords(),
	}
	for _, d := range drafts {
		view.Drafts = append(view.Drafts, fromDraft(d))
	}
	return view
}

func fromDraft(d *store.Draft) DraftView {
	view := DraftView{
		ID:           d.ID,
		TweetID:      d.TweetID,
		Text:         d.Text,
		FinalText:    d.FinalText,
		Model:        d.Model,
		Status:       string(d.Status),
		Superseded:   d.Superseded,
		RejectReason: d.RejectReason,
		CreatedAt:    wireTime(d.CreatedAt),
	}
	if d.ScheduledAt != nil {
		view.ScheduledAt = wireTime(*d.ScheduledAt)
	}
	return view
}

func fromKeyword(kw store.Keyword) KeywordView {
	return KeywordView{
		Term:     kw.Term,
		Weight:   kw.Weight,
		Enabled:  kw.Enabled,
		Position: kw.Position,
	}
}

func fromAudit(rec *store.AuditRecord) AuditView {
	return AuditView{
		ID:           rec.ID,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Payload:      rec.Payload,
		CreatedAt:    wireTime(rec.CreatedAt),
	}
}
