// Package bulkexport tracks asynchronous bulk export jobs against source
// systems: kickoff, bounded polling, and ingestion of completed output.
package bulkexport

import (
	"time"

	"github.com/google/uuid"
)

// Scope selects what a bulk export covers.
type Scope string

const (
	ScopePatient Scope = "patient"
	ScopeGroup   Scope = "group"
	ScopeSystem  Scope = "system"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopePatient, ScopeGroup, ScopeSystem:
		return true
	}
	return false
}

// Status is the lifecycle state of a bulk export job.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the job has reached a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// BulkExportJob records one export request and its outcome. The poll
// reference is the opaque handle the source hands back at kickoff; output
// references are filled in once the export completes.
type BulkExportJob struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`

	Scope          Scope      `db:"scope" json:"scope"`
	RequestedTypes []string   `db:"requested_types" json:"requested_types"`
	Since          *time.Time `db:"since" json:"since,omitempty"`

	Status     Status   `db:"status" json:"status"`
	PollRef    string   `db:"poll_ref" json:"-"`
	OutputRefs []string `db:"output_refs" json:"output_refs,omitempty"`

	ResourcesIngested int     `db:"resources_ingested" json:"resources_ingested"`
	BytesDownloaded   int64   `db:"bytes_downloaded" json:"bytes_downloaded"`
	Error             *string `db:"error" json:"error,omitempty"`

	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
