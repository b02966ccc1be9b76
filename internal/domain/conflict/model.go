package conflict

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conflict record.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusAutoResolved  Status = "auto_resolved"
	StatusPendingManual Status = "pending_manual"
	StatusResolved      Status = "resolved"
	StatusSuperseded    Status = "superseded"
)

// Terminal reports whether the conflict can no longer be resolved.
func (s Status) Terminal() bool {
	return s == StatusAutoResolved || s == StatusResolved || s == StatusSuperseded
}

// Pending reports whether the conflict still awaits a resolution.
func (s Status) Pending() bool {
	return s == StatusDetected || s == StatusPendingManual
}

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyLastWriteWins  Strategy = "LAST_WRITE_WINS"
	StrategySourcePriority Strategy = "SOURCE_PRIORITY"
	StrategyFieldMerge     Strategy = "FIELD_MERGE"
	StrategyManual         Strategy = "MANUAL"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLastWriteWins, StrategySourcePriority, StrategyFieldMerge, StrategyManual:
		return true
	}
	return false
}

// ConflictRecord captures one divergence between the stored canonical copy
// of a resource and an incoming version of it.
type ConflictRecord struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ResourceID   uuid.UUID `db:"resource_id" json:"resource_id"`
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	SourceID     string    `db:"source_id" json:"source_id"`

	StoredVersion   string          `db:"stored_version" json:"stored_version"`
	StoredPayload   json.RawMessage `db:"stored_payload" json:"stored_payload"`
	StoredUpdatedAt *time.Time      `db:"stored_updated_at" json:"stored_updated_at,omitempty"`
	StoredSource    string          `db:"stored_source" json:"stored_source"`

	IncomingVersion   string          `db:"incoming_version" json:"incoming_version"`
	IncomingPayload   json.RawMessage `db:"incoming_payload" json:"incoming_payload"`
	IncomingUpdatedAt *time.Time      `db:"incoming_updated_at" json:"incoming_updated_at,omitempty"`
	IncomingSource    string          `db:"incoming_source" json:"incoming_source"`

	// ChangedFields lists the top-level payload fields that differ in value.
	ChangedFields []string `db:"changed_fields" json:"changed_fields"`

	Status     Status    `db:"status" json:"status"`
	Strategy   *Strategy `db:"strategy" json:"strategy,omitempty"`
	DetectedAt time.Time `db:"detected_at" json:"detected_at"`

	ResolvedAt    *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy    *string         `db:"resolved_by" json:"resolved_by,omitempty"`
	Reason        *string         `db:"reason" json:"reason,omitempty"`
	ResultPayload json.RawMessage `db:"result_payload" json:"result_payload,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
