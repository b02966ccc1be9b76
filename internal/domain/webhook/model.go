package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backoff selects the inter-attempt delay curve for retries.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Valid reports whether b is a known backoff policy.
func (b Backoff) Valid() bool {
	return b == BackoffFixed || b == BackoffExponential
}

// Delay returns the wait before the given retry. attempt is 1-based; the
// delay applies after that attempt failed.
func (b Backoff) Delay(base time.Duration, attempt int) time.Duration {
	if b != BackoffExponential || attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Subscription is a registered webhook destination, keyed by
// (provider, connection).
type Subscription struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Provider     string    `db:"provider" json:"provider"`
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`

	URL    string `db:"url" json:"url"`
	Secret string `db:"secret" json:"-"`

	// Events lists subscribed event types. Exact ("resource.stored") or
	// wildcard ("resource.*", "*.failed") patterns.
	Events []string `db:"events" json:"events"`

	Backoff     Backoff       `db:"backoff" json:"backoff"`
	MaxAttempts int           `db:"max_attempts" json:"max_attempts"`
	RetryDelay  time.Duration `db:"retry_delay" json:"retry_delay"`
	Timeout     time.Duration `db:"timeout" json:"timeout"`

	// Headers are attached verbatim to every delivery.
	Headers map[string]string `db:"headers" json:"headers,omitempty"`

	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// eventMatches reports whether the event type matches a subscription
// pattern, exact or wildcard.
func eventMatches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(eventType, pattern[1:])
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// Subscribed reports whether the subscription wants the event type.
func (s *Subscription) Subscribed(eventType string) bool {
	for _, pat := range s.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// Outcome is the terminal disposition of one delivery attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"

	// OutcomeExhausted marks the final attempt of an event whose retries
	// ran out. No automatic re-queue happens afterwards.
	OutcomeExhausted Outcome = "exhausted"
)

// DeliveryLog is one append-only row per delivery attempt.
type DeliveryLog struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SubscriptionID uuid.UUID `db:"subscription_id" json:"subscription_id"`
	EventID        uuid.UUID `db:"event_id" json:"event_id"`
	EventType      string    `db:"event_type" json:"event_type"`

	Attempt    int           `db:"attempt" json:"attempt"`
	StatusCode int           `db:"status_code" json:"status_code"`
	Outcome    Outcome       `db:"outcome" json:"outcome"`
	Error      string        `db:"error" json:"error,omitempty"`
	Duration   time.Duration `db:"duration" json:"duration_ns"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Event is a change notification produced by the sync pipeline. The ID is
// stable across retries so consumers can deduplicate.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	ConnectionID uuid.UUID       `json:"connection_id"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewEvent builds an event with a fresh stable id.
func NewEvent(eventType string, connectionID uuid.UUID, resourceType, resourceID string, payload json.RawMessage) Event {
	return Event{
		ID:           uuid.New(),
		Type:         eventType,
		ConnectionID: connectionID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
		OccurredAt:   time.Now().UTC(),
	}
}
