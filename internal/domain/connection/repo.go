package connection

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines data access for connections.
type Repository interface {
	Create(ctx context.Context, conn *Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Connection, int, error)
	Update(ctx context.Context, conn *Connection) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateSyncState(ctx context.Context, id uuid.UUID, lastSyncAt, nextSyncAt time.Time) error
	SetFailures(ctx context.Context, id uuid.UUID, count int) error
	SetIdentity(ctx context.Context, id uuid.UUID, identityID uuid.UUID) error

	// ListDue returns active connections whose next scheduled sync is at or
	// before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Connection, error)
}
