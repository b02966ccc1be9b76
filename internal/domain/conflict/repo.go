package conflict

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines data access for conflict records.
type Repository interface {
	Create(ctx context.Context, rec *ConflictRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConflictRecord, error)

	// GetByIDForUpdate takes a row lock so resolution can re-read current
	// state immediately before applying a decision.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ConflictRecord, error)

	Update(ctx context.Context, rec *ConflictRecord) error

	// List returns conflicts filtered by optional resource type and resource
	// id, pending first, newest first within each group.
	List(ctx context.Context, resourceType string, resourceID *uuid.UUID, limit, offset int) ([]*ConflictRecord, int, error)

	// HasPendingForResource reports whether any unresolved conflict exists
	// for the given canonical resource.
	HasPendingForResource(ctx context.Context, resourceID uuid.UUID) (bool, error)

	// SupersedePending marks all still-pending conflicts on the resource,
	// except the one identified by except, as superseded. Returns the number
	// of superseded records.
	SupersedePending(ctx context.Context, resourceID uuid.UUID, except uuid.UUID) (int, error)
}
