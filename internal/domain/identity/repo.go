package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no identity record matches the lookup.
	ErrNotFound = errors.New("identity: record not found")

	// ErrChallengeNotFound is returned when a challenge is missing, already
	// consumed, or cleaned up after expiry.
	ErrChallengeNotFound = errors.New("identity: challenge not found")
)

// Repository defines data access for identity records.
type Repository interface {
	Create(ctx context.Context, rec *IdentityRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*IdentityRecord, error)
	GetByCompositeHash(ctx context.Context, hash string) (*IdentityRecord, error)

	// ListByPrimaryHash returns all records sharing the primary hash, the
	// candidate set for secondary-factor matching.
	ListByPrimaryHash(ctx context.Context, hash string) ([]*IdentityRecord, error)

	Update(ctx context.Context, rec *IdentityRecord) error
}

// ChallengeRepository defines data access for identity challenges.
type ChallengeRepository interface {
	Create(ctx context.Context, ch *IdentityChallenge) error
	GetByID(ctx context.Context, id uuid.UUID) (*IdentityChallenge, error)
	Update(ctx context.Context, ch *IdentityChallenge) error
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteExpired removes challenges whose window closed before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
