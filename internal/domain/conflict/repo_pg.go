package conflict

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

// ErrNotFound is returned when no conflict record matches the given id.
var ErrNotFound = errors.New("conflict: record not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type conflictRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed conflict repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &conflictRepoPG{pool: pool}
}

func (r *conflictRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const conflictCols = `id, resource_id, connection_id, resource_type, source_id,
	stored_version, stored_payload, stored_updated_at, stored_source,
	incoming_version, incoming_payload, incoming_updated_at, incoming_source,
	changed_fields, status, strategy, detected_at,
	resolved_at, resolved_by, reason, result_payload, created_at`

func scanConflict(row pgx.Row) (*ConflictRecord, error) {
	var rec ConflictRecord
	err := row.Scan(&rec.ID, &rec.ResourceID, &rec.ConnectionID, &rec.ResourceType, &rec.SourceID,
		&rec.StoredVersion, &rec.StoredPayload, &rec.StoredUpdatedAt, &rec.StoredSource,
		&rec.IncomingVersion, &rec.IncomingPayload, &rec.IncomingUpdatedAt, &rec.IncomingSource,
		&rec.ChangedFields, &rec.Status, &rec.Strategy, &rec.DetectedAt,
		&rec.ResolvedAt, &rec.ResolvedBy, &rec.Reason, &rec.ResultPayload, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

func (r *conflictRepoPG) Create(ctx context.Context, rec *ConflictRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO conflict_record (id, resource_id, connection_id, resource_type, source_id,
			stored_version, stored_payload, stored_updated_at, stored_source,
			incoming_version, incoming_payload, incoming_updated_at, incoming_source,
			changed_fields, status, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, rec.ResourceID, rec.ConnectionID, rec.ResourceType, rec.SourceID,
		rec.StoredVersion, rec.StoredPayload, rec.StoredUpdatedAt, rec.StoredSource,
		rec.IncomingVersion, rec.IncomingPayload, rec.IncomingUpdatedAt, rec.IncomingSource,
		rec.ChangedFields, rec.Status, rec.DetectedAt)
	return err
}

func (r *conflictRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConflictRecord, error) {
	return scanConflict(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conflictCols+` FROM conflict_record WHERE id = $1`, id))
}

func (r *conflictRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ConflictRecord, error) {
	return scanConflict(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conflictCols+` FROM conflict_record WHERE id = $1 FOR UPDATE`, id))
}

func (r *conflictRepoPG) Update(ctx context.Context, rec *ConflictRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conflict_record SET status=$2, strategy=$3,
			resolved_at=$4, resolved_by=$5, reason=$6, result_payload=$7
		WHERE id = $1`,
		rec.ID, rec.Status, rec.Strategy,
		rec.ResolvedAt, rec.ResolvedBy, rec.Reason, rec.ResultPayload)
	return err
}

func (r *conflictRepoPG) List(ctx context.Context, resourceType string, resourceID *uuid.UUID, limit, offset int) ([]*ConflictRecord, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	if resourceType != "" {
		args = append(args, resourceType)
		where += ` AND resource_type = ` + placeholder(len(args))
	}
	if resourceID != nil {
		args = append(args, *resourceID)
		where += ` AND resource_id = ` + placeholder(len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM conflict_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + conflictCols + ` FROM conflict_record ` + where + `
		ORDER BY (status IN ('detected','pending_manual')) DESC, detected_at DESC
		LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}

func (r *conflictRepoPG) HasPendingForResource(ctx context.Context, resourceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conflict_record
			WHERE resource_id = $1 AND status IN ('detected','pending_manual')
		)`, resourceID).Scan(&exists)
	return exists, err
}

func (r *conflictRepoPG) SupersedePending(ctx context.Context, resourceID uuid.UUID, except uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE conflict_record SET status = 'superseded'
		WHERE resource_id = $1 AND id <> $2
		  AND status IN ('detected','pending_manual')`,
		resourceID, except)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
