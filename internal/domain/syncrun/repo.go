package syncrun

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no run matches the lookup.
var ErrNotFound = errors.New("syncrun: run not found")

// Repository defines data access for sync runs.
type Repository interface {
	Create(ctx context.Context, run *SyncRun) error
	Update(ctx context.Context, run *SyncRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*SyncRun, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID, limit, offset int) ([]*SyncRun, int, error)
}
