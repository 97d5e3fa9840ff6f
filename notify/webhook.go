package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"motionwatch/config"
	"motionwatch/logging"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Webhook posts Discord-style {"content": ...} messages to each camera's URL.
type Webhook struct {
	urls    map[string]string
	client  HTTPClient
	timeout time.Duration
	log     zerolog.Logger
}

// NewWebhook maps cameras to their webhook URLs. Cameras without one are skipped.
func NewWebhook(cameras []config.Camera, timeout time.Duration, client HTTPClient) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	urls := make(map[string]string, len(cameras))
	for _, c := range cameras {
		if c.WebhookURL != "" {
			urls[c.Name] = c.WebhookURL
		}
	}
	return &Webhook{urls: urls, client: client, timeout: timeout, log: logging.Component("webhook")}
}

// Notify posts the event text. Discord answers 204 on success.
func (w *Webhook) Notify(ctx context.Context, e Event) error {
	url, ok := w.urls[e.Camera]
	if !ok {
		return nil
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	text := e.Text()
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "motionwatch")

	w.log.Info().Str("camera", e.Camera).Str("content", text).Msg("Sending webhook alert")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", e.Camera, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		w.log.Debug().Str("camera", e.Camera).Msg("Webhook delivered")
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.log.Info().Str("camera", e.Camera).Int("status", resp.StatusCode).Msg("Webhook sent, unexpected status code")
	default:
		return fmt.Errorf("webhook %s: status %d", e.Camera, resp.StatusCode)
	}
	return nil
}
