package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scribeline/internal/config"
)

const userAgent = "Scribeline/0.1.0"

// Service defines the operator alerting surface. Messages carry
// appointment identifiers only, never patient references or clinical
// content.
type Service interface {
	NotifyAppointmentCompleted(ctx context.Context, appointmentID string) error
	NotifyAppointmentFailed(ctx context.Context, appointmentID, reason string) error
	NotifyAuditAlert(ctx context.Context, detail string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when
// configured. When no ntfy topic is configured, a noop implementation
// is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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
}

func (n *ntfyService) NotifyAppointmentCompleted(ctx context.Context, appointmentID string) error {
	data := payload{
		title:   "Scribeline - Complete",
		message: fmt.Sprintf("Appointment processed: %s", strings.TrimSpace(appointmentID)),
		tags:    []string{"scribeline", "appointment", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAppointmentFailed(ctx context.Context, appointmentID, reason string) error {
	message := fmt.Sprintf("Appointment failed: %s", strings.TrimSpace(appointmentID))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := payload{
		title:    "Scribeline - Failed",
		message:  message,
		tags:     []string{"scribeline", "appointment", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAuditAlert(ctx context.Context, detail string) error {
	data := payload{
		title:    "Scribeline - Audit Alert",
		message:  strings.TrimSpace(detail),
		tags:     []string{"scribeline", "audit", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Scribeline - Test",
		message:  "Notification system test",
		tags:     []string{"scribeline", "test"},
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

func (noopService) NotifyAppointmentCompleted(context.Context, string) error { return nil }

func (noopService) NotifyAppointmentFailed(context.Context, string, string) error { return nil }

func (noopService) NotifyAuditAlert(context.Context, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
