package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holovitals/synccore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type identityRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed identity repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &identityRepoPG{pool: pool}
}

func (r *identityRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const identityCols = `id, user_id, primary_hash, composite_hash, encrypted_facts,
	version, created_at, updated_at`

func scanIdentity(row pgx.Row) (*IdentityRecord, error) {
	var rec IdentityRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.PrimaryHash, &rec.CompositeHash,
		&rec.EncryptedFacts, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

func (r *identityRepoPG) Create(ctx context.Context, rec *IdentityRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identity_record (id, user_id, primary_hash, composite_hash,
			encrypted_facts, version)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.UserID, rec.PrimaryHash, rec.CompositeHash,
		rec.EncryptedFacts, rec.Version)
	return err
}

func (r *identityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*IdentityRecord, error) {
	return scanIdentity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM identity_record WHERE id = $1`, id))
}

func (r *identityRepoPG) GetByCompositeHash(ctx context.Context, hash string) (*IdentityRecord, error) {
	return scanIdentity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM identity_record WHERE composite_hash = $1`, hash))
}

func (r *identityRepoPG) ListByPrimaryHash(ctx context.Context, hash string) ([]*IdentityRecord, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+identityCols+` FROM identity_record WHERE primary_hash = $1 ORDER BY created_at`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*IdentityRecord
	for rows.Next() {
		rec, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *identityRepoPG) Update(ctx context.Context, rec *IdentityRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE identity_record SET primary_hash=$2, composite_hash=$3,
			encrypted_facts=$4, version=$5, updated_at=NOW()
		WHERE id = $1`,
		rec.ID, rec.PrimaryHash, rec.CompositeHash, rec.EncryptedFacts, rec.Version)
	return err
}

type challengeRepoPG struct{ pool *pgxpool.Pool }

// NewChallengeRepoPG creates a PostgreSQL-backed challenge repository.
func NewChallengeRepoPG(pool *pgxpool.Pool) ChallengeRepository {
	return &challengeRepoPG{pool: pool}
}

func (r *challengeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const challengeCols = `id, identity_id, questions, answer_hashes,
	attempts_remaining, expires_at, created_at`

func scanChallenge(row pgx.Row) (*IdentityChallenge, error) {
	var ch IdentityChallenge
	err := row.Scan(&ch.ID, &ch.IdentityID, &ch.Questions, &ch.AnswerHashes,
		&ch.AttemptsRemaining, &ch.ExpiresAt, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	return &ch, err
}

func (r *challengeRepoPG) Create(ctx context.Context, ch *IdentityChallenge) error {
	ch.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identity_challenge (id, identity_id, questions, answer_hashes,
			attempts_remaining, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ch.ID, ch.IdentityID, ch.Questions, ch.AnswerHashes,
		ch.AttemptsRemaining, ch.ExpiresAt)
	return err
}

func (r *challengeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*IdentityChallenge, error) {
	return scanChallenge(r.conn(ctx).QueryRow(ctx,
		`SELECT `+challengeCols+` FROM identity_challenge WHERE id = $1`, id))
}

func (r *challengeRepoPG) Update(ctx context.Context, ch *IdentityChallenge) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE identity_challenge SET attempts_remaining = $2 WHERE id = $1`,
		ch.ID, ch.AttemptsRemaining)
	return err
}

func (r *challengeRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM identity_challenge WHERE id = $1`, id)
	return err
}

func (r *challengeRepoPG) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM identity_challenge WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
