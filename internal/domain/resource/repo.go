package resource

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no canonical resource matches the lookup.
var ErrNotFound = errors.New("resource: not found")

// Repository defines data access for canonical resources. Writers serialize
// at row granularity; GetBySourceForUpdate takes a row lock so a resolution
// decision can re-read current state before applying.
type Repository interface {
	Create(ctx context.Context, res *CanonicalResource) error
	Update(ctx context.Context, res *CanonicalResource) error
	GetByID(ctx context.Context, id uuid.UUID) (*CanonicalResource, error)
	GetBySource(ctx context.Context, connectionID uuid.UUID, resourceType, sourceID string) (*CanonicalResource, error)
	GetBySourceForUpdate(ctx context.Context, connectionID uuid.UUID, resourceType, sourceID string) (*CanonicalResource, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID, resourceType string, limit, offset int) ([]*CanonicalResource, int, error)
}
