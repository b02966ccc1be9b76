package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 2 * time.Second
	defaultTimeout     = 10 * time.Second
)

// Service manages webhook subscriptions.
type Service struct {
	repo Repository

	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
}

// ServiceOption tunes subscription defaults.
type ServiceOption func(*Service)

// WithDeliveryDefaults overrides the retry defaults applied to new
// subscriptions that do not specify their own.
func WithDeliveryDefaults(maxAttempts int, retryDelay, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if retryDelay > 0 {
			s.retryDelay = retryDelay
		}
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewService creates a webhook subscription service.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// generateSecret produces a cryptographically random 32-byte hex string.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Register validates and persists a subscription. An empty secret is
// replaced with a generated one; retry policy fields get defaults.
func (s *Service) Register(ctx context.Context, sub *Subscription) error {
	if err := validateURL(sub.URL); err != nil {
		return err
	}
	if sub.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if sub.ConnectionID == uuid.Nil {
		return fmt.Errorf("connection_id is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	if sub.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		sub.Secret = secret
	}
	if sub.Backoff == "" {
		sub.Backoff = BackoffExponential
	}
	if !sub.Backoff.Valid() {
		return fmt.Errorf("invalid backoff %q", sub.Backoff)
	}
	if sub.MaxAttempts <= 0 {
		sub.MaxAttempts = s.maxAttempts
	}
	if sub.RetryDelay <= 0 {
		sub.RetryDelay = s.retryDelay
	}
	if sub.Timeout <= 0 {
		sub.Timeout = s.timeout
	}
	sub.Active = true
	return s.repo.CreateSubscription(ctx, sub)
}

// Get returns one subscription by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.repo.GetSubscription(ctx, id)
}

// List returns subscriptions filtered by optional provider and connection.
func (s *Service) List(ctx context.Context, provider string, connectionID *uuid.UUID, limit, offset int) ([]*Subscription, int, error) {
	subs, total, err := s.repo.ListSubscriptions(ctx, provider, connectionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	return subs, total, nil
}

// Delete removes a subscription. Its delivery log is retained.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteSubscription(ctx, id)
}

// Deliveries returns the delivery log for one subscription, newest first.
func (s *Service) Deliveries(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*DeliveryLog, int, error) {
	logs, total, err := s.repo.ListDeliveries(ctx, subscriptionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if logs == nil {
		logs = []*DeliveryLog{}
	}
	return logs, total, nil
}
