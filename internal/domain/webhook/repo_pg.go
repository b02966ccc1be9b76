package webhook

import (
	"context"
	"errors"
	"fmt"
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

type webhookRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed webhook repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &webhookRepoPG{pool: pool}
}

func (r *webhookRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const subCols = `id, provider, connection_id, url, secret, events, backoff,
	max_attempts, retry_delay_ms, timeout_ms, headers, active, created_at, updated_at`

func scanSub(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var retryMS, timeoutMS int64
	err := row.Scan(&sub.ID, &sub.Provider, &sub.ConnectionID, &sub.URL, &sub.Secret,
		&sub.Events, &sub.Backoff, &sub.MaxAttempts, &retryMS, &timeoutMS,
		&sub.Headers, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	sub.RetryDelay = msToDuration(retryMS)
	sub.Timeout = msToDuration(timeoutMS)
	return &sub, err
}

func (r *webhookRepoPG) CreateSubscription(ctx context.Context, sub *Subscription) error {
	sub.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_subscription (id, provider, connection_id, url, secret,
			events, backoff, max_attempts, retry_delay_ms, timeout_ms, headers, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sub.ID, sub.Provider, sub.ConnectionID, sub.URL, sub.Secret,
		sub.Events, sub.Backoff, sub.MaxAttempts,
		sub.RetryDelay.Milliseconds(), sub.Timeout.Milliseconds(),
		sub.Headers, sub.Active)
	return err
}

func (r *webhookRepoPG) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return scanSub(r.conn(ctx).QueryRow(ctx,
		`SELECT `+subCols+` FROM webhook_subscription WHERE id = $1`, id))
}

func (r *webhookRepoPG) ListSubscriptions(ctx context.Context, provider string, connectionID *uuid.UUID, limit, offset int) ([]*Subscription, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	if provider != "" {
		args = append(args, provider)
		where += ` AND provider = ` + placeholder(len(args))
	}
	if connectionID != nil {
		args = append(args, *connectionID)
		where += ` AND connection_id = ` + placeholder(len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM webhook_subscription `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + subCols + ` FROM webhook_subscription ` + where +
		` ORDER BY created_at DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Subscription
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, sub)
	}
	return items, total, nil
}

func (r *webhookRepoPG) ListActiveByConnection(ctx context.Context, connectionID uuid.UUID) ([]*Subscription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+subCols+` FROM webhook_subscription
		WHERE connection_id = $1 AND active ORDER BY created_at`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Subscription
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sub)
	}
	return items, nil
}

func (r *webhookRepoPG) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM webhook_subscription WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *webhookRepoPG) AppendDelivery(ctx context.Context, log *DeliveryLog) error {
	log.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_delivery_log (id, subscription_id, event_id, event_type,
			attempt, status_code, outcome, error, duration_ns)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		log.ID, log.SubscriptionID, log.EventID, log.EventType,
		log.Attempt, log.StatusCode, log.Outcome, log.Error, log.Duration.Nanoseconds())
	return err
}

func (r *webhookRepoPG) ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*DeliveryLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_delivery_log WHERE subscription_id = $1`,
		subscriptionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, subscription_id, event_id, event_type, attempt, status_code,
			outcome, error, duration_ns, created_at
		FROM webhook_delivery_log
		WHERE subscription_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		subscriptionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DeliveryLog
	for rows.Next() {
		var l DeliveryLog
		var durationNS int64
		if err := rows.Scan(&l.ID, &l.SubscriptionID, &l.EventID, &l.EventType,
			&l.Attempt, &l.StatusCode, &l.Outcome, &l.Error, &durationNS, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		l.Duration = time.Duration(durationNS)
		items = append(items, &l)
	}
	return items, total, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
