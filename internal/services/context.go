package services

import "context"

type contextKey string

const (
	episodeIDKey contextKey = "episode_id"
	stageKey     contextKey = "stage"
	runIDKey     contextKey = "run_id"
	requestIDKey contextKey = "request_id"
)

// WithEpisodeID annotates context with the episode identifier.
func WithEpisodeID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, episodeIDKey, id)
}

// EpisodeIDFromContext extracts the episode identifier if present.
func EpisodeIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(episodeIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(stageKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(runIDKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
