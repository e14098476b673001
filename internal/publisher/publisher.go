// Package publisher dispatches scheduled publish intents. A cron loop drains
// intents whose target time has passed and hands each one to the configured
// Poster. Claiming an intent is a single-shot status flip, so a reply is
// posted at most once even with overlapping dispatch ticks.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"soundbite/internal/config"
	"soundbite/internal/notifications"
	"soundbite/internal/store"
)

// Poster delivers a reply to the external platform. Implementations live
// outside this process; the default LogPoster only records what would have
// been sent.
type Poster interface {
	PostReply(ctx context.Context, inReplyTo, text string) error
}

// LogPoster is the default Poster: it logs the reply instead of sending it.
// Useful for dry runs and development installs without platform credentials.
type LogPoster struct {
	Logger *slog.Logger
}

func (p LogPoster) PostReply(_ context.Context, inReplyTo, text string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reply dispatched (log only)",
		slog.String("in_reply_to", inReplyTo),
		slog.String("text", text))
	return nil
}

// Dispatcher owns the cron loop that drains due publish intents.
type Dispatcher struct {
	cfg      *config.Config
	store    *store.Store
	poster   Poster
	notifier notifications.Service
	logger   *slog.Logger
	cron     *cron.Cron
}

// New builds a dispatcher. A nil poster falls back to LogPoster and a nil
// notifier falls back to the configured notification service.
func New(cfg *config.Config, st *store.Store, poster Poster, notifier notifications.Service, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "publisher"))
	if poster == nil {
		poster = LogPoster{Logger: logger}
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		poster:   poster,
		notifier: notifier,
		logger:   logger,
	}
}

// Start schedules the dispatch loop. It is a no-op when the publisher is
// disabled in configuration.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.cfg.Publisher.Enabled {
		d.logger.Info("publisher disabled")
		return nil
	}
	spec := d.cfg.Publisher.DispatchCron
	if spec == "" {
		spec = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := d.DispatchDue(ctx); err != nil {
			d.logger.Error("dispatch pass failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule dispatch %q: %w", spec, err)
	}
	c.Start()
	d.cron = c
	d.logger.Info("publisher started", slog.String("schedule", spec))
	return nil
}

// Stop halts the cron loop and waits for an in-flight pass to finish.
func (d *Dispatcher) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.cron = nil
}

// DispatchDue drains every intent whose target time has passed. Each intent
// is claimed before posting, so a failed post is not retried automatically;
// the failure lands in the audit trail for the operator.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	due, err := d.store.DuePublishIntents(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list due intents: %w", err)
	}
	for _, intent := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.dispatch(ctx, intent)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, intent *store.PublishIntent) {
	log := d.logger.With(
		slog.Int64("intent_id", intent.ID),
		slog.Int64("draft_id", intent.DraftID))

	claimed, err := d.store.MarkIntentDispatched(ctx, intent.ID)
	if err != nil {
		log.Error("intent claim failed", slog.Any("error", err))
		return
	}
	if !claimed {
		// Another pass got there first.
		return
	}

	tweet, err := d.store.GetTweet(ctx, intent.TweetID)
	if err != nil {
		log.Error("tweet lookup failed", slog.Any("error", err))
		d.audit(ctx, "intent_post_failed", intent, err.Error())
		return
	}

	if err := d.poster.PostReply(ctx, tweet.ExternalID, intent.Text); err != nil {
		log.Error("post failed", slog.Any("error", err))
		d.audit(ctx, "intent_post_failed", intent, err.Error())
		return
	}

	if err := d.store.MarkDraftPosted(ctx, intent.DraftID); err != nil {
		log.Error("draft posted-state update failed", slog.Any("error", err))
	}
	d.audit(ctx, "intent_dispatched", intent, "")
	if err := d.notifier.NotifyDraftPublished(ctx, tweet.Author, intent.Text); err != nil {
		log.Warn("publish notification failed", slog.Any("error", err))
	}
	log.Info("reply posted", slog.String("in_reply_to", tweet.ExternalID))
}

func (d *Dispatcher) audit(ctx context.Context, action string, intent *store.PublishIntent, detail string) {
	payload, _ := json.Marshal(map[string]any{
		"draft_id": intent.DraftID,
		"tweet_id": intent.TweetID,
		"detail":   detail,
	})
	if err := d.store.AppendAudit(ctx, action, "publish_intent", strconv.FormatInt(intent.ID, 10), string(payload)); err != nil {
		d.logger.Warn("audit append failed", slog.String("action", action), slog.Any("error", err))
	}
}
