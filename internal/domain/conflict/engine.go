package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/domain/resource"
	"github.com/holovitals/synccore/internal/platform/provider"
	"github.com/holovitals/synccore/internal/platform/telemetry"
)

var (
	// ErrStaleConflict is returned when resolving a conflict that is already
	// resolved or superseded. State is never mutated in that case.
	ErrStaleConflict = errors.New("conflict: already resolved or superseded")

	// ErrUnknownMergeProfile is returned when a resolution names a merge
	// function that was never registered.
	ErrUnknownMergeProfile = errors.New("conflict: unknown merge profile")
)

// GroupMerge carries one field group's data into a MergeFunc.
type GroupMerge struct {
	Group    string
	Fields   []string
	Stored   map[string]any
	Incoming map[string]any

	StoredUpdatedAt   *time.Time
	IncomingUpdatedAt *time.Time
}

// MergeFunc resolves one field group, returning the field values to keep.
// Fields omitted from the result are dropped from the merged payload.
type MergeFunc func(g GroupMerge) map[string]any

// DefaultGroupMerge keeps the incoming group only when its source timestamp
// is strictly newer; equal or missing timestamps keep the stored group.
func DefaultGroupMerge(g GroupMerge) map[string]any {
	if g.StoredUpdatedAt != nil && g.IncomingUpdatedAt != nil && g.IncomingUpdatedAt.After(*g.StoredUpdatedAt) {
		return g.Incoming
	}
	return g.Stored
}

// TxRunner executes fn as one atomic unit of work. The production runner
// opens a database transaction so the row locks taken by the re-reads hold
// until the resolution writes commit; without it each statement autocommits
// and the locks are released immediately.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithTxRunner sets the unit-of-work runner resolutions execute under.
func WithTxRunner(run TxRunner) EngineOption {
	return func(e *Engine) {
		if run != nil {
			e.tx = run
		}
	}
}

// Engine detects divergent concurrent edits and applies resolution
// strategies. All dependencies are injected; there is no ambient state.
type Engine struct {
	repo       Repository
	resources  resource.Repository
	priorities map[string]int
	tx         TxRunner
	clock      func() time.Time
	logger     zerolog.Logger

	mu         sync.RWMutex
	mergeFuncs map[string]MergeFunc
}

// NewEngine creates a conflict engine. priorities ranks vendor tags for
// SOURCE_PRIORITY; higher values win.
func NewEngine(repo Repository, resources resource.Repository, priorities map[string]int, logger zerolog.Logger, opts ...EngineOption) *Engine {
	if priorities == nil {
		priorities = map[string]int{}
	}
	e := &Engine{
		repo:       repo,
		resources:  resources,
		priorities: priorities,
		tx:         func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) },
		clock:      time.Now,
		logger:     logger,
		mergeFuncs: map[string]MergeFunc{"default": DefaultGroupMerge},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// RegisterMergeFunc makes a merge function addressable by name from the
// resolution API.
func (e *Engine) RegisterMergeFunc(name string, fn MergeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeFuncs[name] = fn
}

func (e *Engine) mergeFunc(name string) (MergeFunc, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.mergeFuncs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMergeProfile, name)
	}
	return fn, nil
}

// Detect compares the stored canonical copy against an incoming version.
// A conflict exists only when the version tags differ AND at least one
// tracked field differs in value; a pure version bump is not a conflict.
// When a conflict is recorded, any older still-pending conflict on the same
// resource is marked superseded.
func (e *Engine) Detect(ctx context.Context, stored *resource.CanonicalResource, incoming provider.Record, storedSource, incomingSource string) (*ConflictRecord, bool, error) {
	if stored.SourceVersion == incoming.Version {
		return nil, false, nil
	}

	storedMap, err := stored.PayloadMap()
	if err != nil {
		return nil, false, fmt.Errorf("decode stored payload: %w", err)
	}
	changed := ChangedFields(storedMap, incoming.Payload)
	if len(changed) == 0 {
		return nil, false, nil
	}

	incomingJSON, err := json.Marshal(incoming.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode incoming payload: %w", err)
	}

	rec := &ConflictRecord{
		ResourceID:        stored.ID,
		ConnectionID:      stored.ConnectionID,
		ResourceType:      stored.ResourceType,
		SourceID:          stored.SourceID,
		StoredVersion:     stored.SourceVersion,
		StoredPayload:     stored.Payload,
		StoredUpdatedAt:   stored.SourceUpdatedAt,
		StoredSource:      storedSource,
		IncomingVersion:   incoming.Version,
		IncomingPayload:   incomingJSON,
		IncomingUpdatedAt: incoming.LastModified,
		IncomingSource:    incomingSource,
		ChangedFields:     changed,
		Status:            StatusDetected,
		DetectedAt:        e.clock(),
	}
	if err := e.repo.Create(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("record conflict: %w", err)
	}

	superseded, err := e.repo.SupersedePending(ctx, stored.ID, rec.ID)
	if err != nil {
		return nil, false, fmt.Errorf("supersede older conflicts: %w", err)
	}
	if superseded > 0 {
		e.logger.Info().
			Str("resource_id", stored.ID.String()).
			Int("superseded", superseded).
			Msg("older pending conflicts superseded")
	}

	telemetry.ConflictsDetectedTotal.Inc()
	return rec, true, nil
}

// AutoResolve applies the connection's configured strategy right after
// detection. MANUAL parks the conflict as pending; other strategies apply
// and mark it auto-resolved.
func (e *Engine) AutoResolve(ctx context.Context, rec *ConflictRecord, strategy Strategy, mergeFn MergeFunc) error {
	if !strategy.Valid() {
		return fmt.Errorf("conflict: invalid strategy %q", strategy)
	}
	if strategy == StrategyManual {
		rec.Status = StatusPendingManual
		s := StrategyManual
		rec.Strategy = &s
		return e.repo.Update(ctx, rec)
	}

	err := e.tx(ctx, func(ctx context.Context) error {
		result, err := e.apply(rec, strategy, mergeFn)
		if err != nil {
			return err
		}
		if err := e.writeResult(ctx, rec, result); err != nil {
			return err
		}

		now := e.clock()
		rec.Status = StatusAutoResolved
		rec.Strategy = &strategy
		rec.ResolvedAt = &now
		rec.ResultPayload = result.payload
		return e.repo.Update(ctx, rec)
	})
	if err != nil {
		return err
	}
	telemetry.ConflictsResolvedTotal.WithLabelValues(string(strategy)).Inc()
	return nil
}

// ResolveOptions carries optional parameters for a manual resolution.
type ResolveOptions struct {
	Reason       string
	MergeProfile string
}

// Resolve applies a strategy to a pending conflict on behalf of resolver.
// The whole decision runs as one unit of work: the conflict and the current
// stored state are re-read under row locks that hold until the writes land,
// so a concurrently completed sync cannot be lost and two resolvers cannot
// both win. Resolving a terminal conflict fails with ErrStaleConflict.
func (e *Engine) Resolve(ctx context.Context, conflictID uuid.UUID, strategy Strategy, resolver string, opts ResolveOptions) error {
	if !strategy.Valid() || strategy == StrategyManual {
		return fmt.Errorf("conflict: %q is not an applicable resolution strategy", strategy)
	}
	if resolver == "" {
		return fmt.Errorf("conflict: resolver identity is required")
	}

	err := e.tx(ctx, func(ctx context.Context) error {
		rec, err := e.repo.GetByIDForUpdate(ctx, conflictID)
		if err != nil {
			return fmt.Errorf("load conflict: %w", err)
		}
		if rec.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrStaleConflict, rec.ID, rec.Status)
		}

		var mergeFn MergeFunc
		if strategy == StrategyFieldMerge && opts.MergeProfile != "" {
			mergeFn, err = e.mergeFunc(opts.MergeProfile)
			if err != nil {
				return err
			}
		}

		result, err := e.apply(rec, strategy, mergeFn)
		if err != nil {
			return err
		}
		if err := e.writeResult(ctx, rec, result); err != nil {
			return err
		}

		now := e.clock()
		rec.Status = StatusResolved
		rec.Strategy = &strategy
		rec.ResolvedAt = &now
		rec.ResolvedBy = &resolver
		if opts.Reason != "" {
			rec.Reason = &opts.Reason
		}
		rec.ResultPayload = result.payload
		return e.repo.Update(ctx, rec)
	})
	if err != nil {
		return err
	}
	telemetry.ConflictsResolvedTotal.WithLabelValues(string(strategy)).Inc()
	return nil
}

// resolution is the outcome of applying a strategy.
type resolution struct {
	payload      json.RawMessage
	version      string
	updatedAt    *time.Time
	incomingWins bool
	merged       bool
}

func (e *Engine) apply(rec *ConflictRecord, strategy Strategy, mergeFn MergeFunc) (resolution, error) {
	switch strategy {
	case StrategyLastWriteWins:
		return e.lastWriteWins(rec), nil
	case StrategySourcePriority:
		return e.sourcePriority(rec), nil
	case StrategyFieldMerge:
		if mergeFn == nil {
			// Policy downgrade: no merge function supplied.
			e.logger.Warn().
				Str("conflict_id", rec.ID.String()).
				Msg("field merge requested without merge function, downgrading to last-write-wins")
			return e.lastWriteWins(rec), nil
		}
		return e.fieldMerge(rec, mergeFn)
	default:
		return resolution{}, fmt.Errorf("conflict: invalid strategy %q", strategy)
	}
}

// lastWriteWins keeps the incoming version only when its source timestamp is
// strictly newer. Equal or missing timestamps keep the stored version.
func (e *Engine) lastWriteWins(rec *ConflictRecord) resolution {
	if rec.StoredUpdatedAt != nil && rec.IncomingUpdatedAt != nil && rec.IncomingUpdatedAt.After(*rec.StoredUpdatedAt) {
		return resolution{payload: rec.IncomingPayload, version: rec.IncomingVersion, updatedAt: rec.IncomingUpdatedAt, incomingWins: true}
	}
	return resolution{payload: rec.StoredPayload, version: rec.StoredVersion, updatedAt: rec.StoredUpdatedAt}
}

// sourcePriority picks by configured vendor ranking, ignoring timestamps.
// Ties keep the stored version.
func (e *Engine) sourcePriority(rec *ConflictRecord) resolution {
	if e.priorities[rec.IncomingSource] > e.priorities[rec.StoredSource] {
		return resolution{payload: rec.IncomingPayload, version: rec.IncomingVersion, updatedAt: rec.IncomingUpdatedAt, incomingWins: true}
	}
	return resolution{payload: rec.StoredPayload, version: rec.StoredVersion, updatedAt: rec.StoredUpdatedAt}
}

// fieldMerge resolves each changed field group independently through the
// merge function and unions the result over the stored payload.
func (e *Engine) fieldMerge(rec *ConflictRecord, mergeFn MergeFunc) (resolution, error) {
	var storedMap, incomingMap map[string]any
	if err := json.Unmarshal(rec.StoredPayload, &storedMap); err != nil {
		return resolution{}, fmt.Errorf("decode stored payload: %w", err)
	}
	if err := json.Unmarshal(rec.IncomingPayload, &incomingMap); err != nil {
		return resolution{}, fmt.Errorf("decode incoming payload: %w", err)
	}

	result := make(map[string]any, len(storedMap))
	for k, v := range storedMap {
		result[k] = v
	}

	for group, fields := range GroupFields(rec.ChangedFields) {
		gm := GroupMerge{
			Group:             group,
			Fields:            fields,
			Stored:            subset(storedMap, fields),
			Incoming:          subset(incomingMap, fields),
			StoredUpdatedAt:   rec.StoredUpdatedAt,
			IncomingUpdatedAt: rec.IncomingUpdatedAt,
		}
		merged := mergeFn(gm)
		for _, f := range fields {
			if v, ok := merged[f]; ok {
				result[f] = v
			} else {
				delete(result, f)
			}
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return resolution{}, fmt.Errorf("encode merged payload: %w", err)
	}
	return resolution{payload: payload, version: rec.IncomingVersion, updatedAt: rec.IncomingUpdatedAt, merged: true}, nil
}

func subset(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// writeResult applies the resolution to the canonical store. The row is
// re-read under lock so the decision lands on current state, not on the
// snapshot taken at detection time.
func (e *Engine) writeResult(ctx context.Context, rec *ConflictRecord, res resolution) error {
	if !res.incomingWins && !res.merged {
		// Stored version stands; nothing to write.
		return nil
	}

	current, err := e.resources.GetBySourceForUpdate(ctx, rec.ConnectionID, rec.ResourceType, rec.SourceID)
	if err != nil {
		return fmt.Errorf("reload resource: %w", err)
	}
	current.SourceVersion = res.version
	current.Payload = res.payload
	current.SourceUpdatedAt = res.updatedAt
	current.Processed = false
	if err := e.resources.Update(ctx, current); err != nil {
		return fmt.Errorf("apply resolution: %w", err)
	}
	return nil
}

// List returns conflict records matching the optional filters. An empty
// result is a valid answer, never an error.
func (e *Engine) List(ctx context.Context, resourceType string, resourceID *uuid.UUID, limit, offset int) ([]*ConflictRecord, int, error) {
	recs, total, err := e.repo.List(ctx, resourceType, resourceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if recs == nil {
		recs = []*ConflictRecord{}
	}
	return recs, total, nil
}

// HasPendingForResource reports whether the resource has an unresolved
// conflict. The canonical copy is never overwritten while one exists.
func (e *Engine) HasPendingForResource(ctx context.Context, resourceID uuid.UUID) (bool, error) {
	return e.repo.HasPendingForResource(ctx, resourceID)
}
