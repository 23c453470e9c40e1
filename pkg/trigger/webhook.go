// Package trigger turns filter transitions into webhook calls: a trigger is
// a live-only filtered subscription whose Insert events become FIRE posts
// and whose Delete events become CLEAR posts, delivered at-least-once with
// bounded retry.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tycostream/tycostream/pkg/metrics"
	"github.com/tycostream/tycostream/pkg/source"
)

// EventType discriminates webhook events.
type EventType string

const (
	// EventFire signals a key entering the trigger's match region.
	EventFire EventType = "FIRE"

	// EventClear signals a key leaving it.
	EventClear EventType = "CLEAR"
)

// Event is the webhook POST body.
type Event struct {
	EventType   EventType  `json:"event_type"`
	TriggerName string     `json:"trigger_name"`
	Timestamp   time.Time  `json:"timestamp"`
	Data        source.Row `json:"data"`
}

// WebhookConfig tunes delivery. Zero values pick the defaults.
type WebhookConfig struct {
	// RequestTimeout bounds one HTTP attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the total number of tries per event, first included.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound the retry delays between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// QueueSize bounds the per-trigger outbound queue. A full queue
	// disposes the trigger rather than stalling the source.
	QueueSize int
}

func (c WebhookConfig) withDefaults() WebhookConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// poster delivers one trigger's events to its webhook URL, serially and in
// order. Shared across attempts so retry state never crosses events.
type poster struct {
	client *http.Client
	url    string
	cfg    WebhookConfig
	logger *slog.Logger
}

func newPoster(client *http.Client, url string, cfg WebhookConfig, logger *slog.Logger) *poster {
	return &poster{client: client, url: url, cfg: cfg, logger: logger}
}

// post delivers one event, retrying transient failures with exponential
// backoff up to the configured attempt budget. Any 2xx response counts as
// delivered; everything else is retried.
func (p *poster) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.MinBackoff
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		if err := p.attempt(ctx, body); err != nil {
			if attempts < p.cfg.MaxAttempts {
				metrics.WebhookDelivery(ev.TriggerName, "retried")
				p.logger.Warn("Webhook attempt failed, retrying",
					"event_type", ev.EventType, "attempt", attempts, "error", err)
			}
			return err
		}
		return nil
	}

	err = backoff.Retry(operation,
		backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(p.cfg.MaxAttempts-1)))
	if err != nil {
		metrics.WebhookDelivery(ev.TriggerName, "failed")
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, err)
	}
	metrics.WebhookDelivery(ev.TriggerName, "delivered")
	return nil
}

func (p *poster) attempt(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
