package resource

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CanonicalResource is the normalized, vendor-independent copy of one
// clinical record. Unique per (connection, source id, resource type).
type CanonicalResource struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	SourceID     string    `db:"source_id" json:"source_id"`

	// SourceVersion is the version tag reported by the source system.
	SourceVersion string          `db:"source_version" json:"source_version"`
	Payload       json.RawMessage `db:"payload" json:"payload"`

	// SourceUpdatedAt is the last-modified time reported by the source, not
	// the local write time.
	SourceUpdatedAt *time.Time `db:"source_updated_at" json:"source_updated_at,omitempty"`

	Processed bool      `db:"processed" json:"processed"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PayloadMap unmarshals the stored payload into a generic map.
func (r *CanonicalResource) PayloadMap() (map[string]any, error) {
	var m map[string]any
	if len(r.Payload) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(r.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}
