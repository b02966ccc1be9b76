package identity

import (
	"time"

	"github.com/google/uuid"
)

// IdentityRecord is the canonical identity for one patient across all
// connected sources. The composite hash is globally unique; the version
// counter increments whenever secondary factors are folded in.
type IdentityRecord struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"user_id"`

	PrimaryHash   string `db:"primary_hash" json:"-"`
	CompositeHash string `db:"composite_hash" json:"-"`

	// EncryptedFacts is the AES-GCM encrypted personal-fact blob. Facts are
	// recorded for matching and challenge generation, never displayed.
	EncryptedFacts string `db:"encrypted_facts" json:"-"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IdentityChallenge is an ephemeral knowledge-based verification. It is
// deleted on successful use, on attempt exhaustion, and on expiry.
type IdentityChallenge struct {
	ID         uuid.UUID `db:"id" json:"id"`
	IdentityID uuid.UUID `db:"identity_id" json:"identity_id"`

	Questions    []string `db:"questions" json:"questions"`
	AnswerHashes []string `db:"answer_hashes" json:"-"`

	AttemptsRemaining int       `db:"attempts_remaining" json:"attempts_remaining"`
	ExpiresAt         time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the challenge window has closed at t.
func (c *IdentityChallenge) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}
