package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers a text message to a phone number.
type Notifier interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// WebhookNotifier posts {"to","body"} to a messaging gateway.
type WebhookNotifier struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (n *WebhookNotifier) ProviderID() string {
	return "webhook"
}

func (n *WebhookNotifier) Send(ctx context.Context, to string, body string) error {
	if n.url == "" {
		return errors.New("reminder webhook url not configured")
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("reminder recipient is empty")
	}

	raw, err := json.Marshal(map[string]string{
		"to":   to,
		"body": body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reminder webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier only logs the message. Used when no gateway is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ProviderID() string {
	return "log"
}

func (n *LogNotifier) Send(_ context.Context, to string, body string) error {
	n.logger.Info("reminder message", "to", to, "body", body)
	return nil
}
