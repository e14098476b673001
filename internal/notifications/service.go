package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"soundbite/internal/config"
)

const userAgent = "Soundbite-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyRunStarted(ctx context.Context, episodeTitle string) error
	NotifyRunCompleted(ctx context.Context, episodeTitle string, duration time.Duration) error
	NotifyRunFailed(ctx context.Context, episodeTitle string, err error) error
	NotifyReviewNeeded(ctx context.Context, episodeTitle string, drafts int) error
	NotifyDraftPublished(ctx context.Context, author, text string) error
	NotifyBudgetShortfall(ctx context.Context, episodeTitle string, starved []string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	events   config.Notifications
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, episodeTitle string) error {
	data := payload{
		title:   "Soundbite - Run Started",
		message: fmt.Sprintf("Pipeline started for: %s", strings.TrimSpace(episodeTitle)),
		tags:    []string{"soundbite", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, episodeTitle string, duration time.Duration) error {
	if !n.events.RunCompleted {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:    "Soundbite - Run Complete",
		message:  fmt.Sprintf("Pipeline complete for %s in %s; drafts await review", strings.TrimSpace(episodeTitle), duration),
		tags:     []string{"soundbite", "run", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, episodeTitle string, err error) error {
	if !n.events.RunFailed {
		return nil
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "Soundbite - Run Failed",
		message:  fmt.Sprintf("Pipeline failed for %s: %s", strings.TrimSpace(episodeTitle), detail),
		tags:     []string{"soundbite", "run", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReviewNeeded(ctx context.Context, episodeTitle string, drafts int) error {
	if !n.events.ReviewNeeded {
		return nil
	}
	data := payload{
		title:   "Soundbite - Review Needed",
		message: fmt.Sprintf("%d draft replies for %s need review", drafts, strings.TrimSpace(episodeTitle)),
		tags:    []string{"soundbite", "review"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDraftPublished(ctx context.Context, author, text string) error {
	text = strings.TrimSpace(text)
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	data := payload{
		title:   "Soundbite - Reply Published",
		message: fmt.Sprintf("Replied to @%s: %s", strings.TrimSpace(author), text),
		tags:    []string{"soundbite", "publish"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBudgetShortfall(ctx context.Context, episodeTitle string, starved []string) error {
	data := payload{
		title: "Soundbite - Budget Shortfall",
		message: fmt.Sprintf("Discovery for %s could not search: %s",
			strings.TrimSpace(episodeTitle), strings.Join(starved, ", ")),
		tags: []string{"soundbite", "budget", "warning"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Soundbite - Test",
		message:  "Notification system test",
		tags:     []string{"soundbite", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, string) error                  { return nil }
func (noopService) NotifyRunCompleted(context.Context, string, time.Duration) error { return nil }
func (noopService) NotifyRunFailed(context.Context, string, error) error            { return nil }
func (noopService) NotifyReviewNeeded(context.Context, string, int) error           { return nil }
func (noopService) NotifyDraftPublished(context.Context, string, string) error      { return nil }
func (noopService) NotifyBudgetShortfall(context.Context, string, []string) error   { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
