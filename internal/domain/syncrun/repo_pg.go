package syncrun

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

type runRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed sync run repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &runRepoPG{pool: pool}
}

func (r *runRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const runCols = `id, connection_id, run_type, status, started_at, completed_at,
	queried, created, updated, skipped, conflicted, failed, error, created_at`

func scanRun(row pgx.Row) (*SyncRun, error) {
	var run SyncRun
	err := row.Scan(&run.ID, &run.ConnectionID, &run.Type, &run.Status,
		&run.StartedAt, &run.CompletedAt,
		&run.Queried, &run.Created, &run.Updated, &run.Skipped, &run.Conflicted, &run.Failed,
		&run.Error, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &run, err
}

func (r *runRepoPG) Create(ctx context.Context, run *SyncRun) error {
	run.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sync_run (id, connection_id, run_type, status, started_at)
		VALUES ($1,$2,$3,$4,$5)`,
		run.ID, run.ConnectionID, run.Type, run.Status, run.StartedAt)
	return err
}

func (r *runRepoPG) Update(ctx context.Context, run *SyncRun) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE sync_run SET status=$2, completed_at=$3,
			queried=$4, created=$5, updated=$6, skipped=$7, conflicted=$8, failed=$9,
			error=$10
		WHERE id = $1`,
		run.ID, run.Status, run.CompletedAt,
		run.Queried, run.Created, run.Updated, run.Skipped, run.Conflicted, run.Failed,
		run.Error)
	return err
}

func (r *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SyncRun, error) {
	return scanRun(r.conn(ctx).QueryRow(ctx, `SELECT `+runCols+` FROM sync_run WHERE id = $1`, id))
}

func (r *runRepoPG) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit, offset int) ([]*SyncRun, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_run WHERE connection_id = $1`, connectionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+runCols+` FROM sync_run
		WHERE connection_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		connectionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, nil
}
