package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/tierbill/pkg/observability"
)

// EventType represents the type of notification event
type EventType string

const (
	EventUsageAlert       EventType = "billing.usage_alert"
	EventAccountSuspended EventType = "billing.account_suspended"
	EventInvoiceOverdue   EventType = "billing.invoice_overdue"
	EventJobFailed        EventType = "billing.job_failed"
)

const (
	HeaderEvent     = "X-Billing-Event"
	HeaderEventID   = "X-Billing-Event-ID"
	HeaderSignature = "X-Billing-Signature"
	HeaderDelivery  = "X-Billing-Delivery"
)

// Event represents a notification event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	CompanyID int64                  `json:"company_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// Config configures a Notifier. Zero URLs disable that target.
type Config struct {
	URL           string
	Secret        string
	SlackURL      string
	Timeout       time.Duration
	MaxRetries    int
	RatePerSecond float64
	Burst         int
}

// Notifier posts billing events to an operator webhook and, optionally,
// a Slack incoming webhook. A nil *Notifier drops every event.
type Notifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *observability.Logger

	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// NewNotifier creates a new Notifier
func NewNotifier(cfg Config, logger *observability.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 16 * time.Second
			return b
		},
		now: time.Now,
	}
}

// Enabled reports whether any target is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && (n.cfg.URL != "" || n.cfg.SlackURL != "")
}

// Notify delivers event to every configured target. Both targets are
// attempted; the returned error joins their failures.
func (n *Notifier) Notify(ctx context.Context, event *Event) error {
	if !n.Enabled() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = n.now().UTC()
	}

	var errs []error
	if n.cfg.URL != "" {
		if err := n.deliver(ctx, n.cfg.URL, event, func() ([]byte, error) { return json.Marshal(event) }, true); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	if n.cfg.SlackURL != "" {
		msg := FormatSlackMessage(event)
		if err := n.deliver(ctx, n.cfg.SlackURL, event, func() ([]byte, error) { return json.Marshal(msg) }, false); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, url string, event *Event, encode func() ([]byte, error), sign bool) error {
	payload, err := encode()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (int, error) {
		attempt++
		status, err := n.post(ctx, url, event, payload, sign)
		if err != nil && status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return status, backoff.Permanent(err)
		}
		return status, err
	},
		backoff.WithBackOff(n.newBackOff()),
		backoff.WithMaxTries(uint(n.cfg.MaxRetries+1)),
	)
	if err != nil {
		if n.logger != nil {
			n.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": string(event.Type),
				"attempts":   attempt,
			}).Warn("Notification delivery failed")
		}
		return err
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, url string, event *Event, payload []byte, sign bool) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(HeaderEvent, string(event.Type))
		req.Header.Set(HeaderEventID, event.ID)
		req.Header.Set(HeaderDelivery, n.now().UTC().Format(time.RFC3339))
		if n.cfg.Secret != "" {
			req.Header.Set(HeaderSignature, generateSignature(payload, n.cfg.Secret))
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("notification returned non-2xx status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// VerifySignature verifies the notification signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
