package bulkexport

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no bulk export job matches the lookup.
var ErrNotFound = errors.New("bulkexport: job not found")

// Repository persists bulk export jobs.
type Repository interface {
	Create(ctx context.Context, job *BulkExportJob) error
	Update(ctx context.Context, job *BulkExportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*BulkExportJob, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID, limit, offset int) ([]*BulkExportJob, int, error)
}
