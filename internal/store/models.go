package store

import (
	"strings"
	"time"
)

// EpisodeStatus is the coarse processing state of an episode.
type EpisodeStatus string

const (
	EpisodeNoInput    EpisodeStatus = "no_input"
	EpisodeProcessing EpisodeStatus = "processing"
	EpisodeReady      EpisodeStatus = "ready"
	EpisodeError      EpisodeStatus = "error"
)

// RunStatus is the lifecycle of a pipeline run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunRunning    RunStatus = "running"
	RunValidating RunStatus = "validating"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether a run status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// TweetStatus is the lifecycle of a discovered post.
type TweetStatus string

const (
	TweetUnclassified TweetStatus = "unclassified"
	TweetRelevant     TweetStatus = "relevant"
	TweetDrafted      TweetStatus = "drafted"
	TweetScheduled    TweetStatus = "scheduled"
	TweetPosted       TweetStatus = "posted"
	TweetSkip         TweetStatus = "skip"
)

// DraftStatus is the lifecycle of a candidate reply.
type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftApproved  DraftStatus = "approved"
	DraftRejected  DraftStatus = "rejected"
	DraftScheduled DraftStatus = "scheduled"
	DraftPosted    DraftStatus = "posted"
)

// Authoritative reports whether a draft holds terminal-positive authority for
// its tweet. New drafts never supersede an authoritative one.
func (s DraftStatus) Authoritative() bool {
	return s == DraftApproved || s == DraftScheduled || s == DraftPosted
}

// IntentStatus is the lifecycle of a publish intent.
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentDispatched IntentStatus = "dispatched"
)

// Episode is one processing unit of the podcast catalog.
type Episode struct {
	ID             int64
	Title          string
	Status         EpisodeStatus
	Variant        string
	LastValidation string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Fingerprint records the current content hash of a named artifact.
type Fingerprint struct {
	EpisodeID  int64
	Artifact   string
	Hash       string
	Size       int64
	ModifiedAt time.Time
}

// StageRecord captures the fingerprints a stage consumed and produced at its
// last successful completion. Cache validity compares Inputs against the
// current fingerprint table.
type StageRecord struct {
	EpisodeID   int64
	Stage       string
	Inputs      map[string]string
	Outputs     map[string]string
	CompletedAt time.Time
}

// Run is one attempt to execute some or all stages for an episode.
type Run struct {
	ID            string
	EpisodeID     int64
	Stage         string
	Progress      float64
	Status        RunStatus
	ErrorMessage  string
	MetadataJSON  string
	StartedAt     time.Time
	EstimatedDone *time.Time
	UpdatedAt     time.Time
}

// RunError is one append-only record per failed stage attempt.
type RunError struct {
	ID             int64
	EpisodeID      int64
	RunID          string
	Stage          string
	Classification string
	Message        string
	Attempt        int
	SystemState    string
	RecoveryHint   string
	CreatedAt      time.Time
}

// Keyword is an episode-scoped search term with a feedback-adjusted weight.
type Keyword struct {
	ID        int64
	EpisodeID int64
	Term      string
	Weight    float64
	Enabled   bool
	Position  int
	UpdatedAt time.Time
}

// Tweet is one external post matched by the discovery stage.
type Tweet struct {
	ID          int64
	EpisodeID   int64
	ExternalID  string
	Author      string
	Text        string
	Engagement  int64
	Score       float64
	Rationale   string
	Status      TweetStatus
	KeywordsCSV string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Keywords returns the search terms that surfaced this tweet.
func (t Tweet) Keywords() []string {
	if strings.TrimSpace(t.KeywordsCSV) == "" {
		return nil
	}
	parts := strings.Split(t.KeywordsCSV, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Draft is a candidate reply to a tweet.
type Draft struct {
	ID           int64
	TweetID      int64
	Text         string
	FinalText    string
	Model        string
	Status       DraftStatus
	Superseded   bool
	ScheduledAt  *time.Time
	RejectReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublishIntent carries the final text and target time of a scheduled draft.
type PublishIntent struct {
	ID           int64
	DraftID      int64
	TweetID      int64
	Text         string
	TargetTime   time.Time
	Status       IntentStatus
	DispatchedAt *time.Time
	CreatedAt    time.Time
}

// AuditRecord is one append-only entry in the operator-facing audit trail.
type AuditRecord struct {
	ID           int64
	Action       string
	ResourceType string
	ResourceID   string
	Payload      string
	CreatedAt    time.Time
}

// ParseEpisodeStatus converts a string into a known EpisodeStatus.
func ParseEpisodeStatus(value string) (EpisodeStatus, bool) {
	normalized := EpisodeStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case EpisodeNoInput, EpisodeProcessing, EpisodeReady, EpisodeError:
		return normalized, true
	default:
		return "", false
	}
}

// UsagePeriod formats the accounting period key for a point in time.
func UsagePeriod(at time.Time) string {
	return at.UTC().Format("2006-01")
}
