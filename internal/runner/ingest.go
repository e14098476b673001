package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"soundbite/internal/config"
	"soundbite/internal/logging"
	"soundbite/internal/pipeline"
	"soundbite/internal/services"
	"soundbite/internal/store"
	"soundbite/internal/textutil"
)

// nearDuplicateThreshold is the cosine similarity above which a later post
// counts as a copy of an earlier accepted one. Quote-posts and copypasta
// clear it easily; posts that merely share a topic do not.
const nearDuplicateThreshold = 0.85

type keywordEntry struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// ingestKeywords upserts the summarize stage's keyword set into the keywords
// table, preserving declaration order for tie-breaks. Re-running summarize
// refreshes weights but keeps operator edits to other rows intact.
func (r *Runner) ingestKeywords(ctx context.Context, log *slog.Logger, episode *store.Episode) error {
	entries, err := readBatch[keywordEntry](r.cfg, episode.ID, pipeline.ArtifactKeywordSet)
	if err != nil {
		return services.Wrap(services.ErrContract, "runner", "ingest",
			"keyword set is missing or malformed", err)
	}
	for i, entry := range entries {
		if strings.TrimSpace(entry.Term) == "" {
			continue
		}
		if err := r.store.UpsertKeyword(ctx, episode.ID, entry.Term, entry.Weight, true, i); err != nil {
			return err
		}
	}
	log.Info("keyword set ingested", logging.Int("keywords", len(entries)))
	return nil
}

type classifiedPost struct {
	ExternalID string   `json:"external_id"`
	Author     string   `json:"author"`
	Text       string   `json:"text"`
	Engagement int64    `json:"engagement"`
	Keywords   []string `json:"keywords"`
	Score      float64  `json:"score"`
	Rationale  string   `json:"rationale"`
	Relevant   bool     `json:"relevant"`
}

type draftedReply struct {
	ExternalID string `json:"external_id"`
	Text       string `json:"text"`
	Model      string `json:"model"`
}

type acceptedPost struct {
	externalID string
	fp         *textutil.Fingerprint
}

func nearDuplicateOf(accepted []acceptedPost, fp *textutil.Fingerprint) string {
	if fp == nil {
		return ""
	}
	for _, prior := range accepted {
		if textutil.CosineSimilarity(fp, prior.fp) >= nearDuplicateThreshold {
			return prior.externalID
		}
	}
	return ""
}

// ingestReviewRows turns the classification and draft artifacts into review
// rows. Posts already classified in an earlier run keep their verdict; new
// drafts supersede pending ones through the store's own rules. A relevant
// post whose text is a near-duplicate of an earlier accepted one is skipped
// so the reviewer sees each take once.
func (r *Runner) ingestReviewRows(ctx context.Context, log *slog.Logger, episode *store.Episode) error {
	posts, err := readBatch[classifiedPost](r.cfg, episode.ID, pipeline.ArtifactClassification)
	if err != nil {
		return services.Wrap(services.ErrContract, "runner", "ingest",
			"classification batch is missing or malformed", err)
	}

	tweetsByExternalID := make(map[string]*store.Tweet, len(posts))
	var accepted []acceptedPost
	for _, post := range posts {
		if strings.TrimSpace(post.ExternalID) == "" {
			continue
		}
		tweet, err := r.store.InsertTweet(ctx, store.Tweet{
			EpisodeID:   episode.ID,
			ExternalID:  post.ExternalID,
			Author:      post.Author,
			Text:        post.Text,
			Engagement:  post.Engagement,
			KeywordsCSV: strings.Join(post.Keywords, ","),
		})
		if err != nil {
			return err
		}
		fp := textutil.NewFingerprint(post.Text)
		if tweet.Status == store.TweetUnclassified {
			relevant := post.Relevant
			rationale := post.Rationale
			if relevant {
				if dup := nearDuplicateOf(accepted, fp); dup != "" {
					relevant = false
					rationale = "near-duplicate of " + dup
					log.Info("near-duplicate post skipped",
						logging.String("external_id", post.ExternalID),
						logging.String("duplicate_of", dup))
				}
			}
			if err := r.store.SetTweetClassification(ctx, tweet.ID, post.Score, rationale, relevant); err != nil {
				return err
			}
			tweet, err = r.store.GetTweet(ctx, tweet.ID)
			if err != nil {
				return err
			}
		}
		if tweet.Status != store.TweetSkip && fp != nil {
			accepted = append(accepted, acceptedPost{externalID: post.ExternalID, fp: fp})
		}
		tweetsByExternalID[post.ExternalID] = tweet
	}

	drafts, err := readBatch[draftedReply](r.cfg, episode.ID, pipeline.ArtifactDraftBatch)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Lean variant, or respond skipped: no drafts to ingest.
			return nil
		}
		return services.Wrap(services.ErrContract, "runner", "ingest",
			"draft batch is malformed", err)
	}

	ingested := 0
	for _, draft := range drafts {
		tweet, ok := tweetsByExternalID[draft.ExternalID]
		if !ok {
			log.Warn("draft references unknown post, dropping",
				logging.String("external_id", draft.ExternalID))
			continue
		}
		if tweet.Status == store.TweetSkip {
			continue
		}
		if _, err := r.store.CreateDraft(ctx, tweet.ID, draft.Text, draft.Model); err != nil {
			return fmt.Errorf("ingest draft for %s: %w", draft.ExternalID, err)
		}
		ingested++
	}
	log.Info("review rows ingested",
		logging.Int("posts", len(posts)),
		logging.Int("drafts", ingested))
	return nil
}

func readBatch[T any](cfg *config.Config, episodeID int64, artifact string) ([]T, error) {
	data, err := os.ReadFile(pipeline.ArtifactPath(cfg, episodeID, artifact))
	if err != nil {
		return nil, err
	}
	var batch []T
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode %s: %w", artifact, err)
	}
	return batch, nil
}
