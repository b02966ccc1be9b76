package connection

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/platform/notification"
)

// Service provides business logic for connection lifecycle management.
type Service struct {
	repo             Repository
	notifier         *notification.Notifier
	failureThreshold int
	logger           zerolog.Logger
}

// NewService creates a connection service. failureThreshold is the number of
// consecutive failed sync runs after which a connection escalates to error.
func NewService(repo Repository, notifier *notification.Notifier, failureThreshold int, logger zerolog.Logger) *Service {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	return &Service{repo: repo, notifier: notifier, failureThreshold: failureThreshold, logger: logger}
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("endpoint URL scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Create registers a connection produced by a completed authorization
// handshake. The connection starts active when a usable token is present,
// pending otherwise.
func (s *Service) Create(ctx context.Context, conn *Connection) error {
	if conn.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if conn.Vendor == "" {
		return fmt.Errorf("vendor is required")
	}
	if err := validateEndpoint(conn.Endpoint); err != nil {
		return err
	}
	if conn.SyncCadence <= 0 {
		conn.SyncCadence = 24 * time.Hour
	}
	if conn.Status == "" {
		if conn.AccessToken != "" {
			conn.Status = StatusActive
		} else {
			conn.Status = StatusPending
		}
	}
	return s.repo.Create(ctx, conn)
}

// Get returns one connection.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser returns a user's connections.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Connection, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// Transition moves a connection to the next status, rejecting moves the
// lifecycle does not allow.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, next Status) error {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !conn.Status.CanTransition(next) {
		return fmt.Errorf("invalid status transition %s -> %s", conn.Status, next)
	}
	return s.repo.UpdateStatus(ctx, id, next)
}

// Disconnect soft-deletes a connection. The row is retained for audit history.
func (s *Service) Disconnect(ctx context.Context, id uuid.UUID) error {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if conn.Status == StatusDisconnected {
		return nil
	}
	return s.repo.UpdateStatus(ctx, id, StatusDisconnected)
}

// RecordSyncFailure increments the consecutive-failure counter and escalates
// the connection to error once the threshold is reached.
func (s *Service) RecordSyncFailure(ctx context.Context, conn *Connection) error {
	failures := conn.ConsecutiveFailures + 1
	if err := s.repo.SetFailures(ctx, conn.ID, failures); err != nil {
		return err
	}
	conn.ConsecutiveFailures = failures

	if failures >= s.failureThreshold && conn.Status.CanTransition(StatusError) {
		if err := s.repo.UpdateStatus(ctx, conn.ID, StatusError); err != nil {
			return err
		}
		conn.Status = StatusError
		s.logger.Error().
			Str("connection_id", conn.ID.String()).
			Int("consecutive_failures", failures).
			Msg("connection escalated to error")
		if s.notifier != nil {
			s.notifier.Raise(ctx, "connection.error", notification.SeverityCritical,
				fmt.Sprintf("connection %s escalated to error after %d consecutive sync failures", conn.ID, failures),
				map[string]string{"connection_id": conn.ID.String(), "vendor": conn.Vendor})
		}
	}
	return nil
}

// RecordSyncSuccess resets the consecutive-failure counter.
func (s *Service) RecordSyncSuccess(ctx context.Context, conn *Connection) error {
	if conn.ConsecutiveFailures == 0 {
		return nil
	}
	conn.ConsecutiveFailures = 0
	return s.repo.SetFailures(ctx, conn.ID, 0)
}

// EscalateAuthFailure moves the connection to error immediately. Credential
// failures are not retried; the user must re-authorize.
func (s *Service) EscalateAuthFailure(ctx context.Context, conn *Connection) error {
	if !conn.Status.CanTransition(StatusError) {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, conn.ID, StatusError); err != nil {
		return err
	}
	conn.Status = StatusError
	if s.notifier != nil {
		s.notifier.Raise(ctx, "connection.auth_failed", notification.SeverityCritical,
			fmt.Sprintf("connection %s authentication failed; re-authorization required", conn.ID),
			map[string]string{"connection_id": conn.ID.String(), "vendor": conn.Vendor})
	}
	return nil
}

// LinkIdentity attaches the connection to a resolved identity record. Used
// both on first successful resolution during a sync and when recovering an
// orphaned connection after challenge verification.
func (s *Service) LinkIdentity(ctx context.Context, connectionID, identityID uuid.UUID) error {
	conn, err := s.repo.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.IdentityID != nil && *conn.IdentityID == identityID {
		return nil
	}
	if err := s.repo.SetIdentity(ctx, connectionID, identityID); err != nil {
		return err
	}
	conn.IdentityID = &identityID
	return nil
}

// AdvanceSyncWindow records a successful run. lastSyncAt moves to the run's
// start time, not its completion time, so resources modified mid-run are
// re-covered on the next pass; the next due time is cadence from now.
func (s *Service) AdvanceSyncWindow(ctx context.Context, conn *Connection, runStart time.Time) error {
	next := time.Now().Add(conn.SyncCadence)
	if err := s.repo.UpdateSyncState(ctx, conn.ID, runStart, next); err != nil {
		return err
	}
	conn.LastSyncAt = &runStart
	conn.NextSyncAt = &next
	return nil
}

// ListDue returns active connections whose next sync time has passed.
func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]*Connection, error) {
	return s.repo.ListDue(ctx, now, limit)
}
