// Package monitor posts worker state changes to an HTTP webhook.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// WebhookPayload is the JSON body of every notification.
type WebhookPayload struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

const (
	EventTransition   = "transition"
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventTest         = "test"
)

var client = &http.Client{Timeout: 10 * time.Second}

// SendWebhook posts payload to url and fails on a non-2xx answer.
func SendWebhook(ctx context.Context, url string, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TestWebhookURL sends a test event and returns the status code.
func TestWebhookURL(ctx context.Context, url string) (int, error) {
	data, err := json.Marshal(WebhookPayload{
		Event:     EventTest,
		Timestamp: time.Now().Unix(),
		Detail:    "barlens webhook test",
	})
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send test webhook: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Notifier posts events asynchronously. Bursts beyond the limiter are
// dropped, failures are only logged.
type Notifier struct {
	url     string
	limiter *rate.Limiter
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier returns a Notifier for url. An empty url yields a Notifier
// that drops everything.
func NewNotifier(url string) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		url:     url,
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Notify queues payload for delivery and reports whether it was accepted.
func (n *Notifier) Notify(p WebhookPayload) bool {
	if !n.Enabled() || n.ctx.Err() != nil {
		return false
	}
	if !n.limiter.Allow() {
		log.Debug().Str("event", p.Event).Msg("webhook rate limited")
		return false
	}
	if p.Timestamp == 0 {
		p.Timestamp = n.now().Unix()
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := SendWebhook(n.ctx, n.url, p); err != nil {
			log.Warn().Err(err).Str("event", p.Event).Msg("webhook delivery failed")
		}
	}()
	return true
}

func (n *Notifier) Transition(from, to, sessionID string) {
	n.Notify(WebhookPayload{Event: EventTransition, From: from, To: to, SessionID: sessionID})
}

func (n *Notifier) SessionStarted(id string) {
	n.Notify(WebhookPayload{Event: EventSessionStart, SessionID: id})
}

func (n *Notifier) SessionEnded(id, reason string) {
	n.Notify(WebhookPayload{Event: EventSessionEnd, SessionID: id, Detail: reason})
}

// Close waits up to timeout for in-flight deliveries, then aborts them.
func (n *Notifier) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	n.cancel()
	<-done
}
