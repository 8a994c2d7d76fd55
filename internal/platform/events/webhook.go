package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// DeliveryAttempt records one POST to the webhook endpoint.
type DeliveryAttempt struct {
	EventID    string        `json:"event_id"`
	Attempt    int           `json:"attempt"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// WebhookOption configures a WebhookPublisher.
type WebhookOption func(*WebhookPublisher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(p *WebhookPublisher) { p.httpClient = c }
}

// WithRetryDelays sets the waits between attempts; the number of delays is
// the number of retries.
func WithRetryDelays(d ...time.Duration) WebhookOption {
	return func(p *WebhookPublisher) { p.retryDelays = d }
}

// WebhookPublisher POSTs signed events to a single endpoint, retrying
// network errors, 429 and 5xx responses.
type WebhookPublisher struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration

	mu       sync.Mutex
	attempts []DeliveryAttempt
}

func NewWebhookPublisher(url, secret string, opts ...WebhookOption) *WebhookPublisher {
	p := &WebhookPublisher{
		url:         url,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *WebhookPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	sig := SignPayload(payload, p.secret)

	var lastErr error
	for attempt := 1; attempt <= len(p.retryDelays)+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook delivery of %s abandoned: %w", ev.ID, ctx.Err())
			case <-time.After(p.retryDelays[attempt-2]):
			}
		}
		retry, err := p.deliver(ctx, ev, payload, sig, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (p *WebhookPublisher) deliver(ctx context.Context, ev Event, payload []byte, sig string, attempt int) (retry bool, err error) {
	rec := DeliveryAttempt{EventID: ev.ID, Attempt: attempt}
	defer func() {
		if err != nil {
			rec.Error = err.Error()
		}
		p.mu.Lock()
		p.attempts = append(p.attempts, rec)
		p.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-Event", ev.Type)
	req.Header.Set("X-Webhook-Timestamp", ev.OccurredAt.Format(time.RFC3339))

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	rec.Duration = time.Since(start)
	if err != nil {
		return true, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	rec.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook rejected event with %d", resp.StatusCode)
	}
}

// Attempts returns the delivery log.
func (p *WebhookPublisher) Attempts() []DeliveryAttempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DeliveryAttempt(nil), p.attempts...)
}

func (p *WebhookPublisher) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
