package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"stagecoach/internal/config"
)

const userAgent = "Stagecoach/0.1.0"

// EnvTopic overrides the configured ntfy topic when set.
const EnvTopic = "STAGECOACH_NTFY_TOPIC"

// Event names a notifiable moment in a session's life.
type Event string

const (
	EventSessionStarted   Event = "session_started"
	EventSessionCompleted Event = "session_completed"
	EventSessionFailed    Event = "session_failed"
	EventSessionPartial   Event = "session_partial"
	EventSessionAborted   Event = "session_aborted"
	EventError            Event = "error"
	EventTest             Event = "test"
)

// Payload carries pre-formatted fields for the event message. Callers format
// byte counts and durations; this package only assembles text.
type Payload map[string]string

// Service publishes operator notifications. Suppressed and unconfigured
// events return nil so callers never branch on notification settings.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when a topic is
// configured (or present in STAGECOACH_NTFY_TOPIC). Without a topic a noop
// implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		topic = strings.TrimSpace(os.Getenv(EnvTopic))
	}
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
		enabled:  eventGates(cfg.Notifications),
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
	enabled  map[Event]bool
}

// eventGates maps each event onto its config switch. The test event is
// always deliverable so `stagecoach config test-notify` works regardless.
func eventGates(cfg config.Notifications) map[Event]bool {
	return map[Event]bool{
		EventSessionStarted:   cfg.SessionStart,
		EventSessionCompleted: cfg.SessionDone,
		EventSessionAborted:   cfg.SessionDone,
		EventSessionFailed:    cfg.Errors,
		EventSessionPartial:   cfg.Errors,
		EventError:            cfg.Errors,
		EventTest:             true,
	}
}

func (n *ntfyService) Publish(ctx context.Context, event Event, fields Payload) error {
	allowed, known := n.enabled[event]
	if !known {
		return fmt.Errorf("unknown notification event %q", event)
	}
	if !allowed {
		return nil
	}
	return n.send(ctx, render(event, fields))
}

func render(event Event, fields Payload) payload {
	get := func(key, fallback string) string {
		value := strings.TrimSpace(fields[key])
		if value == "" {
			return fallback
		}
		return value
	}

	switch event {
	case EventSessionStarted:
		subject := get("subject", "unknown")
		task := get("task", "unknown")
		message := fmt.Sprintf("Session started: %s running %s", subject, task)
		if rig := get("rig", ""); rig != "" {
			message = fmt.Sprintf("%s on %s", message, rig)
		}
		return payload{
			title:   "Stagecoach - Session Started",
			message: message,
			tags:    []string{"stagecoach", "session", "started"},
		}
	case EventSessionCompleted:
		subject := get("subject", "unknown")
		message := fmt.Sprintf("✅ Session complete: %s", subject)
		if files := get("files", ""); files != "" {
			message = fmt.Sprintf("%s (%s files, %s in %s)",
				message, files, get("size", "0 B"), get("duration", "0s"))
		}
		return payload{
			title:    "Stagecoach - Session Complete",
			message:  message,
			tags:     []string{"stagecoach", "session", "completed"},
			priority: "high",
		}
	case EventSessionFailed:
		return payload{
			title: "Stagecoach - Session Failed",
			message: fmt.Sprintf("❌ Session failed in %s: %s",
				get("stage", "unknown"), get("error", "unknown")),
			tags:     []string{"stagecoach", "error", "alert"},
			priority: "high",
		}
	case EventSessionPartial:
		return payload{
			title: "Stagecoach - Transfer Partial",
			message: fmt.Sprintf("⚠️ Transfer partial for %s: %s of %s files confirmed",
				get("subject", "unknown"), get("confirmed", "0"), get("total", "0")),
			tags:     []string{"stagecoach", "transfer", "partial"},
			priority: "high",
		}
	case EventSessionAborted:
		return payload{
			title: "Stagecoach - Session Aborted",
			message: fmt.Sprintf("Session aborted during %s: %s",
				get("stage", "unknown"), get("subject", "unknown")),
			tags: []string{"stagecoach", "session", "aborted"},
		}
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := get("context", ""); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		builder.WriteString(get("error", "unknown"))
		return payload{
			title:    "Stagecoach - Error",
			message:  builder.String(),
			tags:     []string{"stagecoach", "error", "alert"},
			priority: "high",
		}
	default:
		return payload{
			title:    "Stagecoach - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"stagecoach", "test"},
			priority: "low",
		}
	}
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
