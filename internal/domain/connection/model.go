package connection

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a source connection.
type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusRevoked      Status = "revoked"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// validTransitions enumerates the allowed status moves. Connections are never
// hard-deleted; disconnected is the terminal soft-delete state preserving
// audit history.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusActive, StatusError, StatusDisconnected},
	StatusActive:       {StatusExpired, StatusRevoked, StatusError, StatusDisconnected},
	StatusExpired:      {StatusActive, StatusRevoked, StatusDisconnected},
	StatusError:        {StatusActive, StatusDisconnected},
	StatusRevoked:      {StatusDisconnected},
	StatusDisconnected: {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Connection links a user to one external health-record source.
type Connection struct {
	ID       uuid.UUID `db:"id" json:"id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	Vendor   string    `db:"vendor" json:"vendor"`
	Endpoint string    `db:"endpoint" json:"endpoint"`

	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   string     `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time `db:"token_expires_at" json:"token_expires_at,omitempty"`

	// SyncCadence is the interval between scheduled incremental syncs.
	SyncCadence time.Duration `db:"sync_cadence" json:"sync_cadence"`
	LastSyncAt  *time.Time    `db:"last_sync_at" json:"last_sync_at,omitempty"`
	NextSyncAt  *time.Time    `db:"next_sync_at" json:"next_sync_at,omitempty"`

	Status              Status `db:"status" json:"status"`
	ConsecutiveFailures int    `db:"consecutive_failures" json:"consecutive_failures"`

	// IdentityID points at the canonical patient identity once the first
	// sync has resolved one.
	IdentityID *uuid.UUID `db:"identity_id" json:"identity_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TokenExpired reports whether the access token has passed its expiry.
func (c *Connection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && now.After(*c.TokenExpiresAt)
}
