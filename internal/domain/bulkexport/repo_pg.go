package bulkexport

import (
	"context"
	"errors"

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

type jobRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed bulk export job repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &jobRepoPG{pool: pool}
}

func (r *jobRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const jobCols = `id, connection_id, scope, requested_types, since, status,
	poll_ref, output_refs, resources_ingested, bytes_downloaded, error,
	started_at, completed_at, created_at`

func scanJob(row pgx.Row) (*BulkExportJob, error) {
	var job BulkExportJob
	err := row.Scan(&job.ID, &job.ConnectionID, &job.Scope, &job.RequestedTypes, &job.Since, &job.Status,
		&job.PollRef, &job.OutputRefs, &job.ResourcesIngested, &job.BytesDownloaded, &job.Error,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &job, err
}

func (r *jobRepoPG) Create(ctx context.Context, job *BulkExportJob) error {
	job.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bulk_export_job (id, connection_id, scope, requested_types, since, status, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		job.ID, job.ConnectionID, job.Scope, job.RequestedTypes, job.Since, job.Status, job.StartedAt)
	return err
}

func (r *jobRepoPG) Update(ctx context.Context, job *BulkExportJob) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE bulk_export_job SET status=$2, poll_ref=$3, output_refs=$4,
			resources_ingested=$5, bytes_downloaded=$6, error=$7, completed_at=$8
		WHERE id = $1`,
		job.ID, job.Status, job.PollRef, job.OutputRefs,
		job.ResourcesIngested, job.BytesDownloaded, job.Error, job.CompletedAt)
	return err
}

func (r *jobRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BulkExportJob, error) {
	return scanJob(r.conn(ctx).QueryRow(ctx, `SELECT `+jobCols+` FROM bulk_export_job WHERE id = $1`, id))
}

func (r *jobRepoPG) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit, offset int) ([]*BulkExportJob, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bulk_export_job WHERE connection_id = $1`, connectionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+jobCols+` FROM bulk_export_job
		WHERE connection_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		connectionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BulkExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, job)
	}
	return items, total, nil
}
