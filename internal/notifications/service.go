package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stagewright/internal/config"
)

const userAgent = "Stagewright/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventTransitionApplied  Event = "transition_applied"
	EventValidationBypassed Event = "validation_bypassed"
	EventLedgerWriteFailed  Event = "ledger_write_failed"
	EventTest               Event = "test"
)

// Payload carries event fields. Known keys: projectID, organization, from,
// to, actor, reason, bypassReason, error.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Service publishes notifications.
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

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventTransitionApplied:  cfg.Notifications.Transitions,
			EventValidationBypassed: cfg.Notifications.Bypasses,
			EventLedgerWriteFailed:  cfg.Notifications.LedgerFailures,
			EventTest:               true,
		},
	}
}

// Noop returns a Service that drops everything.
func Noop() Service { return noopService{} }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, p Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	data, ok := format(event, p)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func format(event Event, p Payload) (payload, bool) {
	projectID := p.str("projectID")
	switch event {
	case EventTransitionApplied:
		message := fmt.Sprintf("%s moved %s → %s", projectID, orNone(p.str("from")), p.str("to"))
		if actor := p.str("actor"); actor != "" {
			message += fmt.Sprintf(" by %s", actor)
		}
		if reason := p.str("reason"); reason != "" {
			message += fmt.Sprintf("\nReason: %s", reason)
		}
		return payload{
			title:   "Stagewright - Stage Changed",
			message: message,
			tags:    []string{"stagewright", "transition", p.str("to")},
		}, true
	case EventValidationBypassed:
		return payload{
			title: "Stagewright - Validation Bypassed",
			message: fmt.Sprintf("%s moved %s → %s by %s without validation\nReason: %s",
				projectID, orNone(p.str("from")), p.str("to"), orNone(p.str("actor")), p.str("bypassReason")),
			tags:     []string{"stagewright", "bypass", "audit"},
			priority: "high",
		}, true
	case EventLedgerWriteFailed:
		return payload{
			title: "Stagewright - History Write Failed",
			message: fmt.Sprintf("%s moved %s → %s but the history entry was not written: %s",
				projectID, orNone(p.str("from")), p.str("to"), orNone(p.str("error"))),
			tags:     []string{"stagewright", "ledger", "alert"},
			priority: "urgent",
		}, true
	case EventTest:
		return payload{
			title:    "Stagewright - Test",
			message:  "Notification system test",
			tags:     []string{"stagewright", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func orNone(value string) string {
	if value == "" {
		return "(none)"
	}
	return value
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
