package syncrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/domain/bulkexport"
	"github.com/holovitals/synccore/internal/domain/conflict"
	"github.com/holovitals/synccore/internal/domain/connection"
	"github.com/holovitals/synccore/internal/domain/identity"
	"github.com/holovitals/synccore/internal/domain/resource"
	"github.com/holovitals/synccore/internal/domain/webhook"
	"github.com/holovitals/synccore/internal/platform/provider"
	"github.com/holovitals/synccore/internal/platform/telemetry"
)

// defaultResourceTypes is the canonical resource window fetched per run
// when the caller does not narrow it.
var defaultResourceTypes = []string{
	"Patient",
	"Observation",
	"Condition",
	"MedicationRequest",
	"AllergyIntolerance",
	"Immunization",
	"DocumentReference",
}

// Orchestrator drives sync runs end to end: adapter fetch, identity
// resolution, conflict detection, canonical storage, webhook events, and
// run bookkeeping.
type Orchestrator struct {
	runs        Repository
	resources   resource.Repository
	connections *connection.Service
	identities  *identity.Service
	conflicts   *conflict.Engine
	registry    *provider.Registry
	bulk        *bulkexport.Tracker
	dispatcher  *webhook.Dispatcher
	locks       *LockRegistry

	retry           provider.RetryPolicy
	resourceTypes   []string
	defaultStrategy conflict.Strategy

	logger zerolog.Logger
	clock  func() time.Time
}

// Options tunes orchestrator behavior.
type Options struct {
	// ResourceTypes narrows the per-run fetch window. Empty means the
	// default canonical set.
	ResourceTypes []string

	// DefaultStrategy is applied to conflicts detected during a run.
	// MANUAL parks them for review instead of auto-resolving.
	DefaultStrategy conflict.Strategy

	// Retry bounds adapter calls.
	Retry provider.RetryPolicy
}

// NewOrchestrator wires a sync orchestrator from its collaborators.
func NewOrchestrator(
	runs Repository,
	resources resource.Repository,
	connections *connection.Service,
	identities *identity.Service,
	conflicts *conflict.Engine,
	registry *provider.Registry,
	bulk *bulkexport.Tracker,
	dispatcher *webhook.Dispatcher,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	if len(opts.ResourceTypes) == 0 {
		opts.ResourceTypes = defaultResourceTypes
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = conflict.StrategyLastWriteWins
	}
	if opts.Retry.CallTimeout <= 0 {
		opts.Retry = provider.DefaultRetryPolicy()
	}
	return &Orchestrator{
		runs:            runs,
		resources:       resources,
		connections:     connections,
		identities:      identities,
		conflicts:       conflicts,
		registry:        registry,
		bulk:            bulk,
		dispatcher:      dispatcher,
		locks:           NewLockRegistry(),
		retry:           opts.Retry,
		resourceTypes:   opts.ResourceTypes,
		defaultStrategy: opts.DefaultStrategy,
		logger:          logger,
		clock:           time.Now,
	}
}

// SetClock overrides the orchestrator clock, for tests.
func (o *Orchestrator) SetClock(clock func() time.Time) { o.clock = clock }

// Locks exposes the run lock registry, shared with the scheduler.
func (o *Orchestrator) Locks() *LockRegistry { return o.locks }

// RunIncrementalSync syncs resources modified since the connection's last
// sync. The connection must be active with no run in flight.
func (o *Orchestrator) RunIncrementalSync(ctx context.Context, connectionID uuid.UUID) (*SyncRun, error) {
	return o.run(ctx, connectionID, RunIncremental)
}

// RunFullSync runs the same pipeline with no since bound, for a first sync
// or recovery.
func (o *Orchestrator) RunFullSync(ctx context.Context, connectionID uuid.UUID) (*SyncRun, error) {
	return o.run(ctx, connectionID, RunFull)
}

func (o *Orchestrator) run(ctx context.Context, connectionID uuid.UUID, typ RunType) (*SyncRun, error) {
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
		Type:         typ,
		Status:       StatusRunning,
		StartedAt:    start,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	adapter, err := o.registry.Adapter(conn.Vendor)
	if err != nil {
		return o.fail(ctx, run, conn, err)
	}
	retrying := provider.NewRetryingAdapter(adapter, o.retry, o.logger)

	if err := retrying.Authenticate(ctx); err != nil {
		return o.fail(ctx, run, conn, err)
	}

	var since *time.Time
	if typ == RunIncremental {
		since = conn.LastSyncAt
	}

	for _, resourceType := range o.resourceTypes {
		if ctx.Err() != nil {
			return o.cancelled(ctx, run)
		}
		records, err := retrying.FetchResourcesOf(ctx, resourceType, since)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return o.cancelled(ctx, run)
			}
			return o.fail(ctx, run, conn, err)
		}
		run.Queried += len(records)
		for _, rec := range records {
			if ctx.Err() != nil {
				return o.cancelled(ctx, run)
			}
			run.record(o.ingest(ctx, conn, rec))
		}
	}

	return o.complete(ctx, run, conn, start)
}

// complete marks the run successful, resets the failure streak, and
// advances the sync window to the run's start time.
func (o *Orchestrator) complete(ctx context.Context, run *SyncRun, conn *connection.Connection, start time.Time) (*SyncRun, error) {
	now := o.clock()
	run.Status = StatusCompleted
	run.CompletedAt = &now
	if err := o.runs.Update(ctx, run); err != nil {
		return run, err
	}
	if err := o.connections.RecordSyncSuccess(ctx, conn); err != nil {
		o.logger.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("reset failure streak")
	}
	if err := o.connections.AdvanceSyncWindow(ctx, conn, start); err != nil {
		o.logger.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("advance sync window")
	}

	o.observeRun(run)
	o.publish(ctx, webhook.NewEvent("sync.completed", conn.ID, "", "", o.summaryPayload(run)))
	o.logger.Info().
		Str("connection_id", conn.ID.String()).
		Str("run_id", run.ID.String()).
		Str("type", string(run.Type)).
		Int("queried", run.Queried).
		Int("created", run.Created).
		Int("updated", run.Updated).
		Int("conflicted", run.Conflicted).
		Int("failed", run.Failed).
		Msg("sync run completed")
	return run, nil
}

// fail marks the run failed with captured error detail. The sync window is
// left unchanged so the same span is re-covered next time. Credential
// failures escalate the connection immediately; other failures count
// against the consecutive-failure threshold.
func (o *Orchestrator) fail(ctx context.Context, run *SyncRun, conn *connection.Connection, cause error) (*SyncRun, error) {
	now := o.clock()
	detail := cause.Error()
	run.Status = StatusFailed
	run.CompletedAt = &now
	run.Error = &detail
	if err := o.runs.Update(ctx, run); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist failed run")
	}

	if provider.IsAuthFailure(cause) {
		if err := o.connections.EscalateAuthFailure(ctx, conn); err != nil {
			o.logger.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("escalate auth failure")
		}
	} else {
		if err := o.connections.RecordSyncFailure(ctx, conn); err != nil {
			o.logger.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("record sync failure")
		}
	}

	o.observeRun(run)
	o.publish(ctx, webhook.NewEvent("sync.failed", conn.ID, "", "", o.summaryPayload(run)))
	return run, cause
}

func (o *Orchestrator) cancelled(ctx context.Context, run *SyncRun) (*SyncRun, error) {
	now := o.clock()
	run.Status = StatusCancelled
	run.CompletedAt = &now
	// The run row must record the cancellation even though ctx is done.
	if err := o.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist cancelled run")
	}
	o.observeRun(run)
	return run, ctx.Err()
}

func (o *Orchestrator) observeRun(run *SyncRun) {
	telemetry.SyncRunsTotal.WithLabelValues(string(run.Type), string(run.Status)).Inc()
	if run.CompletedAt != nil {
		telemetry.SyncRunDuration.WithLabelValues(string(run.Type)).Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	}
}

func (o *Orchestrator) summaryPayload(run *SyncRun) json.RawMessage {
	payload, err := json.Marshal(run)
	if err != nil {
		return nil
	}
	return payload
}

func (o *Orchestrator) publish(ctx context.Context, event webhook.Event) {
	if o.dispatcher == nil {
		return
	}
	if err := o.dispatcher.Publish(ctx, event); err != nil {
		o.logger.Error().Err(err).Str("event_type", event.Type).Msg("publish webhook event")
	}
}

// ingest runs one record through the shared pipeline: resolve identity,
// diff against the stored canonical copy, then store, flag, or confirm.
func (o *Orchestrator) ingest(ctx context.Context, conn *connection.Connection, rec provider.Record) outcome {
	if rec.SourceID == "" || rec.ResourceType == "" {
		o.logger.Warn().
			Str("connection_id", conn.ID.String()).
			Str("resource_type", rec.ResourceType).
			Msg("malformed canonical payload, skipping")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}

	if rec.ResourceType == "Patient" {
		if err := o.resolvePatient(ctx, conn, rec); err != nil {
			telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
			return outcomeErrored
		}
	}

	stored, err := o.resources.GetBySource(ctx, conn.ID, rec.ResourceType, rec.SourceID)
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return o.createResource(ctx, conn, rec)
	case err != nil:
		o.logger.Error().Err(err).Str("source_id", rec.SourceID).Msg("load canonical resource")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}

	if stored.SourceVersion == rec.Version {
		telemetry.SyncResourcesTotal.WithLabelValues("skipped").Inc()
		return outcomeSkipped
	}

	confRec, found, err := o.conflicts.Detect(ctx, stored, rec, conn.Vendor, conn.Vendor)
	if err != nil {
		o.logger.Error().Err(err).Str("source_id", rec.SourceID).Msg("conflict detection")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}

	if found {
		if err := o.conflicts.AutoResolve(ctx, confRec, o.defaultStrategy, nil); err != nil {
			o.logger.Error().Err(err).Str("conflict_id", confRec.ID.String()).Msg("auto-resolve conflict")
			telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
			return outcomeErrored
		}
		o.publish(ctx, webhook.NewEvent("resource.conflicted", conn.ID, rec.ResourceType, rec.SourceID, nil))
		telemetry.SyncResourcesTotal.WithLabelValues("conflicted").Inc()
		return outcomeConflicted
	}

	// Version bumped with identical tracked content: refresh the stored
	// copy unless a pending conflict protects it.
	pending, err := o.conflicts.HasPendingForResource(ctx, stored.ID)
	if err != nil {
		o.logger.Error().Err(err).Str("source_id", rec.SourceID).Msg("pending conflict check")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}
	if pending {
		telemetry.SyncResourcesTotal.WithLabelValues("skipped").Inc()
		return outcomeSkipped
	}
	return o.updateResource(ctx, conn, stored, rec)
}

func (o *Orchestrator) createResource(ctx context.Context, conn *connection.Connection, rec provider.Record) outcome {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		o.logger.Error().Err(err).Str("source_id", rec.SourceID).Msg("encode payload")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}
	res := &resource.CanonicalResource{
		ConnectionID:    conn.ID,
		ResourceType:    rec.ResourceType,
		SourceID:        rec.SourceID,
		SourceVersion:   rec.Version,
		Payload:         payload,
		SourceUpdatedAt: rec.LastModified,
	}
	if err := o.resources.Create(ctx, res); err != nil {
		o.logger.Error().Err(err).Str("source_id", rec.SourceID).Msg("store canonical resource")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}
	o.publish(ctx, webhook.NewEvent("resource.created", conn.ID, rec.ResourceType, rec.SourceID, payload))
	telemetry.SyncResourcesTotal.WithLabelValues("created").Inc()
	return outcomeCreated
}

func (o *Orchestrator) updateResource(ctx context.Context, conn *connection.Connection, stored *resource.CanonicalResource, rec provider.Record) outcome {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}
	stored.SourceVersion = rec.Version
	stored.Payload = payload
	stored.SourceUpdatedAt = rec.LastModified
	stored.Processed = false
	if err := o.resources.Update(ctx, stored); err != nil {
		o.logger.Error().Err(err).Str("source_id", rec.SourceID).Msg("update canonical resource")
		telemetry.SyncResourcesTotal.WithLabelValues("errored").Inc()
		return outcomeErrored
	}
	o.publish(ctx, webhook.NewEvent("resource.updated", conn.ID, rec.ResourceType, rec.SourceID, payload))
	telemetry.SyncResourcesTotal.WithLabelValues("updated").Inc()
	return outcomeUpdated
}

// resolvePatient maps an incoming patient record to a canonical identity
// and links the connection on first resolution. Ambiguity is surfaced, not
// auto-merged.
func (o *Orchestrator) resolvePatient(ctx context.Context, conn *connection.Connection, rec provider.Record) error {
	if o.identities == nil {
		return nil
	}
	fields := identityFieldsFrom(rec.Payload)
	idRec, err := o.identities.Resolve(ctx, conn.UserID, fields)
	if err != nil {
		if errors.Is(err, identity.ErrAmbiguousMatch) {
			o.logger.Warn().
				Str("connection_id", conn.ID.String()).
				Str("source_id", rec.SourceID).
				Msg("patient identity ambiguous, flagged for manual reconciliation")
		}
		return err
	}
	if conn.IdentityID == nil {
		if err := o.connections.LinkIdentity(ctx, conn.ID, idRec.ID); err != nil {
			return err
		}
	}
	return nil
}

// identityFieldsFrom extracts identifying fields from a canonical-shaped
// patient payload. Accepts both flat keys and the nested name/address
// shapes sources commonly emit.
func identityFieldsFrom(payload map[string]any) identity.CandidateFields {
	fields := identity.CandidateFields{
		GivenName:  str(payload["given_name"]),
		FamilyName: str(payload["family_name"]),
		BirthDate:  str(payload["birth_date"]),
		StrongID:   str(payload["mrn"]),
		AltName:    str(payload["alt_name"]),
		AltAddress: str(payload["alt_address"]),
	}
	if fields.BirthDate == "" {
		fields.BirthDate = str(payload["birthDate"])
	}

	if names, ok := payload["name"].([]any); ok && len(names) > 0 {
		if name, ok := names[0].(map[string]any); ok {
			if fields.FamilyName == "" {
				fields.FamilyName = str(name["family"])
			}
			if fields.GivenName == "" {
				if given, ok := name["given"].([]any); ok && len(given) > 0 {
					fields.GivenName = str(given[0])
				}
			}
		}
		if len(names) > 1 && fields.AltName == "" {
			if alt, ok := names[1].(map[string]any); ok {
				fields.AltName = str(alt["family"])
			}
		}
	}
	if addrs, ok := payload["address"].([]any); ok && len(addrs) > 0 && fields.AltAddress == "" {
		if addr, ok := addrs[0].(map[string]any); ok {
			if lines, ok := addr["line"].([]any); ok && len(lines) > 0 {
				fields.AltAddress = str(lines[0])
			}
		}
	}
	return fields
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
