package testsupport

import (
	"context"
	"testing"

	"soundbite/internal/config"
	"soundbite/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewEpisode creates an episode for tests using the provided store.
func NewEpisode(t testing.TB, st *store.Store, title string) *store.Episode {
	t.Helper()

	episode, err := st.CreateEpisode(context.Background(), title, "")
	if err != nil {
		t.Fatalf("store.CreateEpisode: %v", err)
	}
	return episode
}

// NewRelevantTweet inserts a tweet and classifies it relevant so draft
// operations can run against it.
func NewRelevantTweet(t testing.TB, st *store.Store, episodeID int64, externalID string) *store.Tweet {
	t.Helper()

	ctx := context.Background()
	tweet, err := st.InsertTweet(ctx, store.Tweet{
		EpisodeID:   episodeID,
		ExternalID:  externalID,
		Author:      "author",
		Text:        "test tweet text",
		KeywordsCSV: "keyword",
	})
	if err != nil {
		t.Fatalf("store.InsertTweet: %v", err)
	}
	if err := st.SetTweetClassification(ctx, tweet.ID, 0.9, "on topic", true); err != nil {
		t.Fatalf("store.SetTweetClassification: %v", err)
	}
	tweet, err = st.GetTweet(ctx, tweet.ID)
	if err != nil {
		t.Fatalf("store.GetTweet: %v", err)
	}
	return tweet
}
