package syncrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/holovitals/synccore/internal/domain/bulkexport"
	"github.com/holovitals/synccore/internal/domain/connection"
	"github.com/holovitals/synccore/internal/platform/provider"
)

// RunBulkExport kicks off a bulk export for the connection and streams the
// completed output through the same per-record pipeline incremental syncs
// use. It holds the connection's run lock for the whole export, so bulk and
// incremental runs never interleave.
func (o *Orchestrator) RunBulkExport(ctx context.Context, connectionID uuid.UUID, scope bulkexport.Scope, types []string, since *time.Time) (*bulkexport.BulkExportJob, error) {
	if o.bulk == nil {
		return nil, errors.New("syncrun: bulk export tracker not configured")
	}
	conn, err := o.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status != connection.StatusActive {
		return nil, fmt.Errorf("connection %s is %s, not active", conn.ID, conn.Status)
	}
	if err := o.locks.Acquire(conn.ID); err != nil {
		return nil, err
	}
	defer o.locks.Release(conn.ID)

	start := o.clock()
	run := &SyncRun{
		ConnectionID: conn.ID,
		Type:         RunBulk,
		Status:       StatusRunning,
		StartedAt:    start,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	ingest := func(ctx context.Context, rec provider.Record) error {
		run.Queried++
		out := o.ingest(ctx, conn, rec)
		run.record(out)
		if out == outcomeErrored {
			return fmt.Errorf("record %s/%s not stored", rec.ResourceType, rec.SourceID)
		}
		return nil
	}

	job, runErr := o.bulk.Run(ctx, conn, scope, types, since, ingest)
	switch {
	case job == nil:
		_, _ = o.fail(ctx, run, conn, runErr)
		return nil, runErr
	case job.Status == bulkexport.StatusCompleted:
		_, err := o.complete(ctx, run, conn, start)
		return job, err
	case job.Status == bulkexport.StatusCancelled:
		_, _ = o.cancelled(ctx, run)
		return job, runErr
	default:
		// Failed or expired. The sync window stays put so an incremental
		// run re-covers the same span.
		_, _ = o.fail(ctx, run, conn, runErr)
		return job, runErr
	}
}
