package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relingo/internal/config"
)

const userAgent = "relingo/0.1"

// Event identifies a task outcome worth telling someone about.
type Event string

const (
	EventTaskCompleted       Event = "task_completed"
	EventTaskPartiallyFailed Event = "task_partially_failed"
	EventTaskFailed          Event = "task_failed"
	EventTaskCancelled       Event = "task_cancelled"
	EventTest                Event = "test"
)

// Payload carries the event's values. Recognised keys are "task", "source",
// "languages", "failed" and "error"; unknown keys are ignored.
type Payload map[string]string

// Service publishes events. Implementations must be safe for concurrent use.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	label := p.label()
	switch event {
	case EventTaskCompleted:
		return message{
			title:    "relingo - Complete",
			body:     fmt.Sprintf("✅ Localized %s: %s", label, p.value("languages", "all languages")),
			tags:     []string{"relingo", "task", "completed"},
			priority: "high",
		}, true
	case EventTaskPartiallyFailed:
		body := fmt.Sprintf("⚠️ Partially localized %s", label)
		if failed := p.value("failed", ""); failed != "" {
			body += "\nFailed languages: " + failed
		}
		return message{
			title: "relingo - Partially Failed",
			body:  body,
			tags:  []string{"relingo", "task", "partial"},
		}, true
	case EventTaskFailed:
		return message{
			title:    "relingo - Failed",
			body:     fmt.Sprintf("❌ Failed %s: %s", label, p.value("error", "unknown error")),
			tags:     []string{"relingo", "error", "alert"},
			priority: "high",
		}, true
	case EventTaskCancelled:
		return message{
			title: "relingo - Cancelled",
			body:  fmt.Sprintf("Cancelled %s", label),
			tags:  []string{"relingo", "task", "cancelled"},
		}, true
	case EventTest:
		return message{
			title:    "relingo - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"relingo", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) value(key, fallback string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return fallback
}

// label names the task by its source file, falling back to the id.
func (p Payload) label() string {
	source := p.value("source", "")
	task := p.value("task", "task")
	if source == "" {
		return task
	}
	return fmt.Sprintf("%s (%s)", source, task)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
