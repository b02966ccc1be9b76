// Package notification raises operator-visible alerts for conditions that
// need human attention: exhausted webhook deliveries, connections escalated
// to error, and identity matches requiring manual reconciliation.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single operator notification.
type Alert struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sink receives raised alerts. Implementations may page, email, or post to
// an incident channel; the default sink only logs.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// Notifier fan-outs alerts to its sinks and keeps a bounded in-memory tail
// for the operator API.
type Notifier struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	sinks  []Sink
	recent []Alert
	limit  int
}

// NewNotifier creates a Notifier retaining up to limit recent alerts.
func NewNotifier(logger zerolog.Logger, limit int) *Notifier {
	if limit <= 0 {
		limit = 100
	}
	return &Notifier{logger: logger, limit: limit}
}

// AddSink registers an additional alert sink.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Raise records and dispatches an alert. Sink failures are logged, never
// propagated; raising an alert must not fail the caller's operation.
func (n *Notifier) Raise(ctx context.Context, kind string, severity Severity, message string, detail map[string]string) Alert {
	alert := Alert{
		ID:        uuid.New().String(),
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Detail:    detail,
		CreatedAt: time.Now(),
	}

	evt := n.logger.Warn()
	if severity == SeverityCritical {
		evt = n.logger.Error()
	} else if severity == SeverityInfo {
		evt = n.logger.Info()
	}
	evt.Str("alert_id", alert.ID).Str("kind", kind).Msg(message)

	n.mu.Lock()
	n.recent = append(n.recent, alert)
	if len(n.recent) > n.limit {
		n.recent = n.recent[len(n.recent)-n.limit:]
	}
	sinks := make([]Sink, len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.Unlock()

	for _, s := range sinks {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("alert sink failed")
		}
	}
	return alert
}

// Recent returns the retained alert tail, newest last.
func (n *Notifier) Recent() []Alert {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Alert, len(n.recent))
	copy(out, n.recent)
	return out
}
