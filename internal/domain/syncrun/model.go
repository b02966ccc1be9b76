// Package syncrun drives per-connection synchronization runs: incremental,
// full, and bulk-export backed. It owns per-connection exclusivity and the
// per-resource ingest pipeline shared by all three modes.
package syncrun

import (
	"time"

	"github.com/google/uuid"
)

// RunType selects how the resource window is fetched.
type RunType string

const (
	RunIncremental RunType = "incremental"
	RunFull        RunType = "full"
	RunBulk        RunType = "bulk"
)

// Valid reports whether t is a known run type.
func (t RunType) Valid() bool {
	return t == RunIncremental || t == RunFull || t == RunBulk
}

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change. A terminal row is
// immutable, one row per run attempt.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SyncRun is one synchronization attempt for a connection.
type SyncRun struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`
	Type         RunType   `db:"run_type" json:"run_type"`
	Status       RunStatus `db:"status" json:"status"`

	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	Queried    int `db:"queried" json:"queried"`
	Created    int `db:"created" json:"created"`
	Updated    int `db:"updated" json:"updated"`
	Skipped    int `db:"skipped" json:"skipped"`
	Conflicted int `db:"conflicted" json:"conflicted"`
	Failed     int `db:"failed" json:"failed"`

	Error *string `db:"error" json:"error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// outcome is the explicit per-resource result variant aggregated into the
// run counters.
type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeConflicted
	outcomeErrored
)

func (r *SyncRun) record(o outcome) {
	switch o {
	case outcomeCreated:
		r.Created++
	case outcomeUpdated:
		r.Updated++
	case outcomeSkipped:
		r.Skipped++
	case outcomeConflicted:
		r.Conflicted++
	case outcomeErrored:
		r.Failed++
	}
}
