package pipeline

import (
	"context"
	"errors"
	"fmt"

	"soundbite/internal/store"
)

// CacheDecision explains why a stage will or will not be served from cache.
type CacheDecision struct {
	Valid  bool
	Reason string
}

// StageCacheValid reports whether a stage's last successful completion still
// covers the episode's current artifacts. A stage is cache-valid only when it
// is cacheable, a completion snapshot exists, every input fingerprint in the
// snapshot matches the current fingerprint table, and every declared output
// is still present.
func StageCacheValid(ctx context.Context, st *store.Store, episodeID int64, stage Stage) (CacheDecision, error) {
	if !stage.Cacheable {
		return CacheDecision{Reason: "stage is not cacheable"}, nil
	}
	snapshot, err := st.StageCompletion(ctx, episodeID, stage.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CacheDecision{Reason: "no successful completion recorded"}, nil
		}
		return CacheDecision{}, fmt.Errorf("load stage completion: %w", err)
	}

	current, err := st.Fingerprints(ctx, episodeID)
	if err != nil {
		return CacheDecision{}, fmt.Errorf("load fingerprints: %w", err)
	}

	for _, input := range stage.Inputs {
		snapHash, ok := snapshot.Inputs[input]
		if !ok {
			return CacheDecision{Reason: fmt.Sprintf("completion snapshot missing input %s", input)}, nil
		}
		fp, ok := current[input]
		if !ok {
			return CacheDecision{Reason: fmt.Sprintf("input %s has no current fingerprint", input)}, nil
		}
		if fp.Hash != snapHash {
			return CacheDecision{Reason: fmt.Sprintf("input %s changed since last completion", input)}, nil
		}
	}
	for _, output := range stage.Outputs {
		if _, ok := current[output]; !ok {
			return CacheDecision{Reason: fmt.Sprintf("output %s is missing", output)}, nil
		}
	}
	return CacheDecision{Valid: true, Reason: "inputs unchanged since last completion"}, nil
}
