package connection

import (
	"context"
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

type connectionRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed connection repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &connectionRepoPG{pool: pool}
}

func (r *connectionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const connCols = `id, user_id, vendor, endpoint, access_token, refresh_token,
	token_expires_at, sync_cadence_seconds, last_sync_at, next_sync_at,
	status, consecutive_failures, identity_id, created_at, updated_at`

func scanConn(row pgx.Row) (*Connection, error) {
	var c Connection
	var cadenceSeconds int64
	err := row.Scan(&c.ID, &c.UserID, &c.Vendor, &c.Endpoint,
		&c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt,
		&cadenceSeconds, &c.LastSyncAt, &c.NextSyncAt,
		&c.Status, &c.ConsecutiveFailures, &c.IdentityID,
		&c.CreatedAt, &c.UpdatedAt)
	c.SyncCadence = time.Duration(cadenceSeconds) * time.Second
	return &c, err
}

func (r *connectionRepoPG) Create(ctx context.Context, conn *Connection) error {
	conn.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO connection (id, user_id, vendor, endpoint, access_token, refresh_token,
			token_expires_at, sync_cadence_seconds, status, consecutive_failures)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0)`,
		conn.ID, conn.UserID, conn.Vendor, conn.Endpoint,
		conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt,
		int64(conn.SyncCadence/time.Second), conn.Status)
	return err
}

func (r *connectionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return scanConn(r.conn(ctx).QueryRow(ctx, `SELECT `+connCols+` FROM connection WHERE id = $1`, id))
}

func (r *connectionRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Connection, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM connection WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+connCols+` FROM connection
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Connection
	for rows.Next() {
		c, err := scanConn(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *connectionRepoPG) Update(ctx context.Context, conn *Connection) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE connection SET endpoint=$2, access_token=$3, refresh_token=$4,
			token_expires_at=$5, sync_cadence_seconds=$6, status=$7, updated_at=NOW()
		WHERE id = $1`,
		conn.ID, conn.Endpoint, conn.AccessToken, conn.RefreshToken,
		conn.TokenExpiresAt, int64(conn.SyncCadence/time.Second), conn.Status)
	return err
}

func (r *connectionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE connection SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return err
}

func (r *connectionRepoPG) UpdateSyncState(ctx context.Context, id uuid.UUID, lastSyncAt, nextSyncAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE connection SET last_sync_at=$2, next_sync_at=$3, updated_at=NOW() WHERE id = $1`,
		id, lastSyncAt, nextSyncAt)
	return err
}

func (r *connectionRepoPG) SetFailures(ctx context.Context, id uuid.UUID, count int) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE connection SET consecutive_failures=$2, updated_at=NOW() WHERE id = $1`, id, count)
	return err
}

func (r *connectionRepoPG) SetIdentity(ctx context.Context, id uuid.UUID, identityID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE connection SET identity_id=$2, updated_at=NOW() WHERE id = $1`, id, identityID)
	return err
}

func (r *connectionRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Connection, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+connCols+` FROM connection
		WHERE status = 'active' AND next_sync_at IS NOT NULL AND next_sync_at <= $1
		ORDER BY next_sync_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Connection
	for rows.Next() {
		c, err := scanConn(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}
