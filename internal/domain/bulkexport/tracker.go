package bulkexport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/domain/connection"
	"github.com/holovitals/synccore/internal/platform/provider"
	"github.com/holovitals/synccore/internal/platform/telemetry"
)

// ErrExportTimeout is returned when the source does not finish an export
// within the configured poll window. The job is marked EXPIRED and nothing
// is ingested.
var ErrExportTimeout = errors.New("bulkexport: export did not finish within the poll window")

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxWait      = 30 * time.Minute
)

// IngestFunc consumes one downloaded record. It is supplied by the sync
// pipeline so bulk output flows through the same diff/store path as
// incremental fetches.
type IngestFunc func(ctx context.Context, rec provider.Record) error

// Tracker drives a bulk export job: kickoff, bounded status polling, and
// output ingestion once the source reports completion.
type Tracker struct {
	repo     Repository
	registry *provider.Registry

	pollInterval time.Duration
	maxWait      time.Duration

	logger zerolog.Logger
	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Options tunes tracker polling behavior.
type Options struct {
	// PollInterval is the delay between status checks.
	PollInterval time.Duration
	// MaxWait bounds the total time spent waiting for the export.
	MaxWait time.Duration
}

// NewTracker creates a bulk export tracker.
func NewTracker(repo Repository, registry *provider.Registry, opts Options, logger zerolog.Logger) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}
	return &Tracker{
		repo:         repo,
		registry:     registry,
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		logger:       logger,
		clock:        time.Now,
		sleep:        sleepCtx,
	}
}

// SetClock overrides the tracker clock, for tests.
func (t *Tracker) SetClock(clock func() time.Time) { t.clock = clock }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one export end to end and returns the terminal job. Records
// from completed output are handed to ingest one at a time; an ingest error
// is logged and counted against neither byte nor resource totals.
func (t *Tracker) Run(ctx context.Context, conn *connection.Connection, scope Scope, types []string, since *time.Time, ingest IngestFunc) (*BulkExportJob, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("bulkexport: invalid scope %q", scope)
	}
	exporter, err := t.registry.BulkExporter(conn.Vendor)
	if err != nil {
		return nil, err
	}

	job := &BulkExportJob{
		ConnectionID:   conn.ID,
		Scope:          scope,
		RequestedTypes: types,
		Since:          since,
		Status:         StatusInitiated,
		StartedAt:      t.clock(),
	}
	if err := t.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}

	pollRef, err := exporter.KickoffExport(ctx, string(scope), types, since)
	if err != nil {
		return t.finish(ctx, job, StatusFailed, err)
	}
	job.PollRef = pollRef
	job.Status = StatusInProgress
	if err := t.repo.Update(ctx, job); err != nil {
		return job, err
	}

	status, err := t.await(ctx, job, exporter)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return t.finish(ctx, job, StatusCancelled, err)
		}
		if errors.Is(err, ErrExportTimeout) {
			return t.finish(ctx, job, StatusExpired, err)
		}
		return t.finish(ctx, job, StatusFailed, err)
	}

	job.OutputRefs = status.OutputRefs
	for _, ref := range status.OutputRefs {
		if ctx.Err() != nil {
			return t.finish(ctx, job, StatusCancelled, ctx.Err())
		}
		records, size, err := exporter.FetchExportOutput(ctx, ref)
		if err != nil {
			return t.finish(ctx, job, StatusFailed, fmt.Errorf("fetch output %s: %w", ref, err))
		}
		job.BytesDownloaded += size
		for _, rec := range records {
			if ctx.Err() != nil {
				return t.finish(ctx, job, StatusCancelled, ctx.Err())
			}
			if err := ingest(ctx, rec); err != nil {
				t.logger.Error().Err(err).
					Str("job_id", job.ID.String()).
					Str("source_id", rec.SourceID).
					Msg("ingest bulk record")
				continue
			}
			job.ResourcesIngested++
		}
	}
	return t.finish(ctx, job, StatusCompleted, nil)
}

// await polls the export until done, failed, cancelled, or the wait budget
// runs out.
func (t *Tracker) await(ctx context.Context, job *BulkExportJob, exporter provider.BulkExporter) (provider.BulkStatus, error) {
	deadline := t.clock().Add(t.maxWait)
	for {
		status, err := exporter.ExportStatus(ctx, job.PollRef)
		if err != nil {
			return provider.BulkStatus{}, err
		}
		if status.Failed {
			return provider.BulkStatus{}, fmt.Errorf("bulkexport: source reported failure: %s", status.Error)
		}
		if status.Done {
			return status, nil
		}
		if !t.clock().Before(deadline) {
			return provider.BulkStatus{}, ErrExportTimeout
		}
		if err := t.sleep(ctx, t.pollInterval); err != nil {
			return provider.BulkStatus{}, err
		}
	}
}

func (t *Tracker) finish(ctx context.Context, job *BulkExportJob, status Status, cause error) (*BulkExportJob, error) {
	now := t.clock()
	job.Status = status
	job.CompletedAt = &now
	if cause != nil {
		detail := cause.Error()
		job.Error = &detail
	}
	// Terminal state must land even when the run context is gone.
	if err := t.repo.Update(context.WithoutCancel(ctx), job); err != nil {
		t.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("persist export job")
	}
	telemetry.BulkExportJobsTotal.WithLabelValues(string(status)).Inc()

	evt := t.logger.Info()
	if cause != nil {
		evt = t.logger.Warn().Err(cause)
	}
	evt.Str("job_id", job.ID.String()).
		Str("connection_id", job.ConnectionID.String()).
		Str("status", string(status)).
		Int("resources_ingested", job.ResourcesIngested).
		Int64("bytes_downloaded", job.BytesDownloaded).
		Msg("bulk export finished")
	return job, cause
}
