package webhook

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no subscription matches the lookup.
var ErrNotFound = errors.New("webhook: subscription not found")

// Repository defines data access for subscriptions and the append-only
// delivery log.
type Repository interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// ListSubscriptions filters by optional provider and connection.
	ListSubscriptions(ctx context.Context, provider string, connectionID *uuid.UUID, limit, offset int) ([]*Subscription, int, error)

	// ListActiveByConnection returns the active subscriptions an event for
	// the connection fans out to.
	ListActiveByConnection(ctx context.Context, connectionID uuid.UUID) ([]*Subscription, error)

	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	AppendDelivery(ctx context.Context, log *DeliveryLog) error
	ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*DeliveryLog, int, error)
}
