package webhook

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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/platform/notification"
	"github.com/holovitals/synccore/internal/platform/telemetry"
)

// ErrDispatcherStopped is returned by Publish after Stop.
var ErrDispatcherStopped = errors.New("webhook: dispatcher stopped")

// SignPayload computes an HMAC-SHA256 signature of the payload using the
// given secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

type laneItem struct {
	sub   *Subscription
	event Event
}

// Dispatcher fans events out to matching subscriptions. Each subscription
// gets its own lane: one goroutine delivering that subscription's events in
// publish order, retries included, so a retrying delivery never blocks
// other subscriptions.
type Dispatcher struct {
	repo     Repository
	client   *http.Client
	notifier *notification.Notifier
	logger   zerolog.Logger

	mu      sync.Mutex
	lanes   map[uuid.UUID]chan laneItem
	stopped bool
	wg      sync.WaitGroup

	// sendMu is held shared for the span of each lane send and exclusively
	// by Stop while closing lanes, so a close can never race a send.
	sendMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	laneBuffer int

	// sleep waits between retry attempts; injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the delivery HTTP client. Per-attempt timeouts
// still come from each subscription.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = c }
}

// WithLaneBuffer sets the per-subscription queue depth.
func WithLaneBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) { d.laneBuffer = n }
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(repo Repository, notifier *notification.Notifier, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		repo:       repo,
		client:     &http.Client{},
		notifier:   notifier,
		logger:     logger,
		lanes:      make(map[uuid.UUID]chan laneItem),
		ctx:        ctx,
		cancel:     cancel,
		laneBuffer: 64,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Publish fans the event out to every active subscription on the event's
// connection whose event set matches. Enqueueing preserves per-subscription
// event order.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	subs, err := d.repo.ListActiveByConnection(ctx, event.ConnectionID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range subs {
		if !sub.Subscribed(event.Type) {
			continue
		}
		if err := d.enqueue(sub, event); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) enqueue(sub *Subscription, event Event) error {
	// The send lease spans the stopped check and the channel send. Stop
	// waits for it before closing any lane, so a publish that passed the
	// check always lands in a still-open lane and is drained on shutdown.
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	lane, ok := d.lanes[sub.ID]
	if !ok {
		lane = make(chan laneItem, d.laneBuffer)
		d.lanes[sub.ID] = lane
		d.wg.Add(1)
		go d.runLane(lane)
	}
	d.mu.Unlock()

	select {
	case lane <- laneItem{sub: sub, event: event}:
		return nil
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	}
}

func (d *Dispatcher) runLane(lane chan laneItem) {
	defer d.wg.Done()
	for item := range lane {
		d.deliver(d.ctx, item.sub, item.event)
	}
}

// Stop drains all lanes and waits for in-flight deliveries to finish. New
// publishes fail with ErrDispatcherStopped; a publish already blocked on a
// full lane completes first and its event is still delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	lanes := make([]chan laneItem, 0, len(d.lanes))
	for _, lane := range d.lanes {
		lanes = append(lanes, lane)
	}
	d.mu.Unlock()

	d.sendMu.Lock()
	for _, lane := range lanes {
		close(lane)
	}
	d.sendMu.Unlock()

	d.wg.Wait()
	d.cancel()
}

// deliver attempts the event against one subscription, retrying per the
// subscription's policy. Every attempt is appended to the delivery log; the
// final failed attempt of an exhausted event carries the exhausted outcome.
func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("encode webhook payload")
		return
	}
	sig := SignPayload(body, sub.Secret)

	attempts := sub.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		statusCode, attemptErr := d.post(ctx, sub, body, sig, event)
		elapsed := time.Since(start)
		telemetry.WebhookDeliveryDuration.Observe(elapsed.Seconds())

		entry := &DeliveryLog{
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      event.Type,
			Attempt:        attempt,
			StatusCode:     statusCode,
			Duration:       elapsed,
			CreatedAt:      time.Now(),
		}

		if attemptErr == nil {
			entry.Outcome = OutcomeSuccess
			d.appendLog(ctx, entry)
			telemetry.WebhookDeliveriesTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
			return
		}

		entry.Error = attemptErr.Error()
		entry.Outcome = OutcomeFailed
		if attempt == attempts {
			entry.Outcome = OutcomeExhausted
		}
		d.appendLog(ctx, entry)
		telemetry.WebhookDeliveriesTotal.WithLabelValues(string(entry.Outcome)).Inc()

		if attempt < attempts {
			if err := d.sleep(ctx, sub.Backoff.Delay(sub.RetryDelay, attempt)); err != nil {
				return
			}
		}
	}

	d.logger.Warn().
		Str("subscription_id", sub.ID.String()).
		Str("event_id", event.ID.String()).
		Int("attempts", attempts).
		Msg("webhook delivery exhausted")
	if d.notifier != nil {
		d.notifier.Raise(ctx, "webhook.exhausted", notification.SeverityWarning,
			fmt.Sprintf("webhook delivery to subscription %s exhausted after %d attempts", sub.ID, attempts),
			map[string]string{
				"subscription_id": sub.ID.String(),
				"event_id":        event.ID.String(),
				"event_type":      event.Type,
			})
	}
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, body []byte, sig string, event Event) (int, error) {
	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-Event-ID", event.ID.String())
	req.Header.Set("X-Webhook-Timestamp", event.OccurredAt.UTC().Format(time.RFC3339))
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	// Drain so the keep-alive connection is reusable on the next attempt.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) appendLog(ctx context.Context, entry *DeliveryLog) {
	// The log is append-only bookkeeping; a write failure must not abort
	// the delivery loop.
	if err := d.repo.AppendDelivery(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Error().Err(err).Str("event_id", entry.EventID.String()).Msg("append delivery log")
	}
}
