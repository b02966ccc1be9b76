package resource

import (
	"context"
	"errors"
	"fmt"

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

type resourceRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed canonical resource repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &resourceRepoPG{pool: pool}
}

func (r *resourceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resCols = `id, connection_id, resource_type, source_id, source_version,
	payload, source_updated_at, processed, created_at, updated_at`

func scanRes(row pgx.Row) (*CanonicalResource, error) {
	var res CanonicalResource
	err := row.Scan(&res.ID, &res.ConnectionID, &res.ResourceType, &res.SourceID,
		&res.SourceVersion, &res.Payload, &res.SourceUpdatedAt, &res.Processed,
		&res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &res, err
}

func (r *resourceRepoPG) Create(ctx context.Context, res *CanonicalResource) error {
	res.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO canonical_resource (id, connection_id, resource_type, source_id,
			source_version, payload, source_updated_at, processed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.ID, res.ConnectionID, res.ResourceType, res.SourceID,
		res.SourceVersion, res.Payload, res.SourceUpdatedAt, res.Processed)
	return err
}

func (r *resourceRepoPG) Update(ctx context.Context, res *CanonicalResource) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE canonical_resource SET source_version=$2, payload=$3,
			source_updated_at=$4, processed=$5, updated_at=NOW()
		WHERE id = $1`,
		res.ID, res.SourceVersion, res.Payload, res.SourceUpdatedAt, res.Processed)
	return err
}

func (r *resourceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CanonicalResource, error) {
	return scanRes(r.conn(ctx).QueryRow(ctx, `SELECT `+resCols+` FROM canonical_resource WHERE id = $1`, id))
}

func (r *resourceRepoPG) GetBySource(ctx context.Context, connectionID uuid.UUID, resourceType, sourceID string) (*CanonicalResource, error) {
	return scanRes(r.conn(ctx).QueryRow(ctx, `SELECT `+resCols+` FROM canonical_resource
		WHERE connection_id = $1 AND resource_type = $2 AND source_id = $3`,
		connectionID, resourceType, sourceID))
}

func (r *resourceRepoPG) GetBySourceForUpdate(ctx context.Context, connectionID uuid.UUID, resourceType, sourceID string) (*CanonicalResource, error) {
	return scanRes(r.conn(ctx).QueryRow(ctx, `SELECT `+resCols+` FROM canonical_resource
		WHERE connection_id = $1 AND resource_type = $2 AND source_id = $3
		FOR UPDATE`,
		connectionID, resourceType, sourceID))
}

func (r *resourceRepoPG) ListByConnection(ctx context.Context, connectionID uuid.UUID, resourceType string, limit, offset int) ([]*CanonicalResource, int, error) {
	where := `WHERE connection_id = $1`
	args := []interface{}{connectionID}
	if resourceType != "" {
		where += ` AND resource_type = $2`
		args = append(args, resourceType)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM canonical_resource `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + resCols + ` FROM canonical_resource ` + where +
		` ORDER BY updated_at DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CanonicalResource
	for rows.Next() {
		res, err := scanRes(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
