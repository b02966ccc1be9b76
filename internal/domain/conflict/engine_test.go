package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/domain/resource"
	"github.com/holovitals/synccore/internal/platform/provider"
)

type mockConflictRepo struct {
	records map[uuid.UUID]*ConflictRecord
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{records: make(map[uuid.UUID]*ConflictRecord)}
}

func (m *mockConflictRepo) Create(_ context.Context, rec *ConflictRecord) error {
	rec.ID = uuid.New()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockConflictRepo) GetByID(_ context.Context, id uuid.UUID) (*ConflictRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockConflictRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ConflictRecord, error) {
	return m.GetByID(ctx, id)
}

func (m *mockConflictRepo) Update(_ context.Context, rec *ConflictRecord) error {
	if _, ok := m.records[rec.ID]; !ok {
		return ErrNotFound
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockConflictRepo) List(_ context.Context, resourceType string, resourceID *uuid.UUID, limit, offset int) ([]*ConflictRecord, int, error) {
	var out []*ConflictRecord
	for _, rec := range m.records {
		if resourceType != "" && rec.ResourceType != resourceType {
			continue
		}
		if resourceID != nil && rec.ResourceID != *resourceID {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (m *mockConflictRepo) HasPendingForResource(_ context.Context, resourceID uuid.UUID) (bool, error) {
	for _, rec := range m.records {
		if rec.ResourceID == resourceID && rec.Status.Pending() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockConflictRepo) SupersedePending(_ context.Context, resourceID uuid.UUID, except uuid.UUID) (int, error) {
	n := 0
	for _, rec := range m.records {
		if rec.ResourceID == resourceID && rec.ID != except && rec.Status.Pending() {
			rec.Status = StatusSuperseded
			n++
		}
	}
	return n, nil
}

type mockResourceRepo struct {
	resources map[uuid.UUID]*resource.CanonicalResource
	updates   int
}

func newMockResourceRepo() *mockResourceRepo {
	return &mockResourceRepo{resources: make(map[uuid.UUID]*resource.CanonicalResource)}
}

func (m *mockResourceRepo) Create(_ context.Context, res *resource.CanonicalResource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	cp := *res
	m.resources[res.ID] = &cp
	return nil
}

func (m *mockResourceRepo) Update(_ context.Context, res *resource.CanonicalResource) error {
	if _, ok := m.resources[res.ID]; !ok {
		return resource.ErrNotFound
	}
	cp := *res
	m.resources[res.ID] = &cp
	m.updates++
	return nil
}

func (m *mockResourceRepo) GetByID(_ context.Context, id uuid.UUID) (*resource.CanonicalResource, error) {
	res, ok := m.resources[id]
	if !ok {
		return nil, resource.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *mockResourceRepo) GetBySource(_ context.Context, connectionID uuid.UUID, resourceType, sourceID string) (*resource.CanonicalResource, error) {
	for _, res := range m.resources {
		if res.ConnectionID == connectionID && res.ResourceType == resourceType && res.SourceID == sourceID {
			cp := *res
			return &cp, nil
		}
	}
	return nil, resource.ErrNotFound
}

func (m *mockResourceRepo) GetBySourceForUpdate(ctx context.Context, connectionID uuid.UUID, resourceType, sourceID string) (*resource.CanonicalResource, error) {
	return m.GetBySource(ctx, connectionID, resourceType, sourceID)
}

func (m *mockResourceRepo) ListByConnection(_ context.Context, connectionID uuid.UUID, resourceType string, limit, offset int) ([]*resource.CanonicalResource, int, error) {
	var out []*resource.CanonicalResource
	for _, res := range m.resources {
		if res.ConnectionID == connectionID {
			out = append(out, res)
		}
	}
	return out, len(out), nil
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestEngine(t *testing.T, priorities map[string]int) (*Engine, *mockConflictRepo, *mockResourceRepo) {
	t.Helper()
	conflicts := newMockConflictRepo()
	resources := newMockResourceRepo()
	eng := NewEngine(conflicts, resources, priorities, zerolog.Nop())
	return eng, conflicts, resources
}

func storedResource(t *testing.T, payload map[string]any, version string, updatedAt *time.Time) *resource.CanonicalResource {
	t.Helper()
	return &resource.CanonicalResource{
		ID:              uuid.New(),
		ConnectionID:    uuid.New(),
		ResourceType:    "Observation",
		SourceID:        "obs-1",
		SourceVersion:   version,
		Payload:         mustJSON(t, payload),
		SourceUpdatedAt: updatedAt,
	}
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDetectSameVersionNoConflict(t *testing.T) {
	eng, _, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", nil)
	_ = resources.Create(context.Background(), stored)

	_, found, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "3",
		Payload: map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("equal version tags must not produce a conflict")
	}
}

func TestDetectVersionBumpWithoutContentChange(t *testing.T) {
	eng, repo, _ := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final", "meta": map[string]any{"versionId": "3"}}, "3", nil)

	_, found, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "4",
		Payload: map[string]any{"status": "final", "meta": map[string]any{"versionId": "4"}},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("a pure version bump must not produce a conflict")
	}
	if len(repo.records) != 0 {
		t.Fatalf("expected no records, got %d", len(repo.records))
	}
}

func TestDetectRecordsConflictAndSupersedesOlder(t *testing.T) {
	eng, repo, _ := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final", "value": 120}, "3", nil)

	first, found, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "4",
		Payload: map[string]any{"status": "amended", "value": float64(120)},
	}, "epic", "epic")
	if err != nil || !found {
		t.Fatalf("expected conflict, found=%v err=%v", found, err)
	}
	if first.Status != StatusDetected {
		t.Fatalf("status = %s, want detected", first.Status)
	}
	if len(first.ChangedFields) != 1 || first.ChangedFields[0] != "status" {
		t.Fatalf("changed fields = %v, want [status]", first.ChangedFields)
	}

	second, found, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "5",
		Payload: map[string]any{"status": "corrected", "value": 121},
	}, "epic", "epic")
	if err != nil || !found {
		t.Fatalf("expected second conflict, found=%v err=%v", found, err)
	}

	got, _ := repo.GetByID(context.Background(), first.ID)
	if got.Status != StatusSuperseded {
		t.Fatalf("older conflict status = %s, want superseded", got.Status)
	}
	got, _ = repo.GetByID(context.Background(), second.ID)
	if got.Status != StatusDetected {
		t.Fatalf("newer conflict status = %s, want detected", got.Status)
	}
}

func TestLastWriteWinsStrictlyNewerWins(t *testing.T) {
	eng, repo, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", ts("2026-01-01T10:00:00Z"))
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version:      "4",
		LastModified: ts("2026-01-01T11:00:00Z"),
		Payload:      map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategyLastWriteWins, nil); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(context.Background(), rec.ID)
	if got.Status != StatusAutoResolved {
		t.Fatalf("status = %s, want auto_resolved", got.Status)
	}
	res, _ := resources.GetByID(context.Background(), stored.ID)
	if res.SourceVersion != "4" {
		t.Fatalf("resource version = %s, want 4 (incoming wins)", res.SourceVersion)
	}
	var payload map[string]any
	_ = json.Unmarshal(res.Payload, &payload)
	if payload["status"] != "amended" {
		t.Fatalf("payload status = %v, want amended", payload["status"])
	}
}

func TestLastWriteWinsTieOrMissingKeepsStored(t *testing.T) {
	cases := []struct {
		name     string
		stored   *time.Time
		incoming *time.Time
	}{
		{"equal timestamps", ts("2026-01-01T10:00:00Z"), ts("2026-01-01T10:00:00Z")},
		{"incoming older", ts("2026-01-01T10:00:00Z"), ts("2026-01-01T09:00:00Z")},
		{"stored missing", nil, ts("2026-01-01T10:00:00Z")},
		{"incoming missing", ts("2026-01-01T10:00:00Z"), nil},
		{"both missing", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, _, resources := newTestEngine(t, nil)
			stored := storedResource(t, map[string]any{"status": "final"}, "3", tc.stored)
			_ = resources.Create(context.Background(), stored)

			rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
				Version:      "4",
				LastModified: tc.incoming,
				Payload:      map[string]any{"status": "amended"},
			}, "epic", "epic")
			if err != nil {
				t.Fatal(err)
			}
			if err := eng.AutoResolve(context.Background(), rec, StrategyLastWriteWins, nil); err != nil {
				t.Fatal(err)
			}

			res, _ := resources.GetByID(context.Background(), stored.ID)
			if res.SourceVersion != "3" {
				t.Fatalf("resource version = %s, want 3 (stored kept)", res.SourceVersion)
			}
			if resources.updates != 0 {
				t.Fatalf("resource updated %d times, want 0", resources.updates)
			}
		})
	}
}

func TestSourcePriorityIgnoresTimestamps(t *testing.T) {
	eng, _, resources := newTestEngine(t, map[string]int{"epic": 10, "cerner": 5})
	stored := storedResource(t, map[string]any{"status": "final"}, "3", ts("2026-01-01T12:00:00Z"))
	_ = resources.Create(context.Background(), stored)

	// Incoming is older by timestamp but from the higher-priority source.
	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version:      "4",
		LastModified: ts("2026-01-01T08:00:00Z"),
		Payload:      map[string]any{"status": "amended"},
	}, "cerner", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategySourcePriority, nil); err != nil {
		t.Fatal(err)
	}

	res, _ := resources.GetByID(context.Background(), stored.ID)
	if res.SourceVersion != "4" {
		t.Fatalf("resource version = %s, want 4 (priority wins regardless of timestamps)", res.SourceVersion)
	}
}

func TestSourcePriorityTieKeepsStored(t *testing.T) {
	eng, _, resources := newTestEngine(t, map[string]int{"epic": 10})
	stored := storedResource(t, map[string]any{"status": "final"}, "3", nil)
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "4",
		Payload: map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategySourcePriority, nil); err != nil {
		t.Fatal(err)
	}

	res, _ := resources.GetByID(context.Background(), stored.ID)
	if res.SourceVersion != "3" {
		t.Fatalf("resource version = %s, want 3 (tie keeps stored)", res.SourceVersion)
	}
}

func TestSourcePriorityHigherRankWins(t *testing.T) {
	ranks := map[string]int{"epic": 100, "cerner": 50, "sandbox": 10}
	cases := []struct {
		name           string
		storedSource   string
		incomingSource string
		wantVersion    string
	}{
		{"lower-ranked incoming loses", "epic", "sandbox", "3"},
		{"higher-ranked incoming wins", "cerner", "epic", "4"},
		{"unlisted incoming loses to any listed source", "sandbox", "pointclickcare", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, _, resources := newTestEngine(t, ranks)
			stored := storedResource(t, map[string]any{"status": "final"}, "3", nil)
			_ = resources.Create(context.Background(), stored)

			rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
				Version: "4",
				Payload: map[string]any{"status": "amended"},
			}, tc.storedSource, tc.incomingSource)
			if err != nil {
				t.Fatal(err)
			}
			if err := eng.AutoResolve(context.Background(), rec, StrategySourcePriority, nil); err != nil {
				t.Fatal(err)
			}

			res, _ := resources.GetByID(context.Background(), stored.ID)
			if res.SourceVersion != tc.wantVersion {
				t.Fatalf("resource version = %s, want %s", res.SourceVersion, tc.wantVersion)
			}
		})
	}
}

func TestFieldMergeResolvesGroupsIndependently(t *testing.T) {
	eng, repo, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{
		"name":   "Jane Doe",
		"value":  float64(120),
		"status": "final",
	}, "3", ts("2026-01-01T10:00:00Z"))
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version:      "4",
		LastModified: ts("2026-01-01T11:00:00Z"),
		Payload: map[string]any{
			"name":   "Jane A. Doe",
			"value":  float64(125),
			"status": "final",
		},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}

	// Keep stored demographics, take everything else from the newer side.
	mergeFn := func(g GroupMerge) map[string]any {
		if g.Group == GroupDemographics {
			return g.Stored
		}
		return DefaultGroupMerge(g)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategyFieldMerge, mergeFn); err != nil {
		t.Fatal(err)
	}

	res, _ := resources.GetByID(context.Background(), stored.ID)
	var payload map[string]any
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["name"] != "Jane Doe" {
		t.Fatalf("name = %v, want stored value kept", payload["name"])
	}
	if payload["value"] != float64(125) {
		t.Fatalf("value = %v, want incoming 125", payload["value"])
	}
	if res.SourceVersion != "4" {
		t.Fatalf("resource version = %s, want 4", res.SourceVersion)
	}

	got, _ := repo.GetByID(context.Background(), rec.ID)
	if len(got.ResultPayload) == 0 {
		t.Fatal("resolved record must carry the merged payload")
	}
}

func TestFieldMergeWithoutMergeFuncFallsBackToLastWriteWins(t *testing.T) {
	eng, repo, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", ts("2026-01-01T10:00:00Z"))
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version:      "4",
		LastModified: ts("2026-01-01T11:00:00Z"),
		Payload:      map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategyFieldMerge, nil); err != nil {
		t.Fatal(err)
	}

	res, _ := resources.GetByID(context.Background(), stored.ID)
	if res.SourceVersion != "4" {
		t.Fatalf("resource version = %s, want 4 (fallback applies last-write-wins)", res.SourceVersion)
	}
	got, _ := repo.GetByID(context.Background(), rec.ID)
	if got.Status != StatusAutoResolved {
		t.Fatalf("status = %s, want auto_resolved", got.Status)
	}
}

func TestAutoResolveManualParksPending(t *testing.T) {
	eng, repo, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", nil)
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "4",
		Payload: map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategyManual, nil); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(context.Background(), rec.ID)
	if got.Status != StatusPendingManual {
		t.Fatalf("status = %s, want pending_manual", got.Status)
	}
	if resources.updates != 0 {
		t.Fatal("manual disposition must not touch the canonical resource")
	}
}

func TestResolvePendingConflict(t *testing.T) {
	eng, repo, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", ts("2026-01-01T10:00:00Z"))
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version:      "4",
		LastModified: ts("2026-01-01T11:00:00Z"),
		Payload:      map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategyManual, nil); err != nil {
		t.Fatal(err)
	}

	err = eng.Resolve(context.Background(), rec.ID, StrategyLastWriteWins, "reviewer@example.org", ResolveOptions{Reason: "newer vitals confirmed"})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(context.Background(), rec.ID)
	if got.Status != StatusResolved {
		t.Fatalf("status = %s, want resolved", got.Status)
	}
	if got.ResolvedBy == nil || *got.ResolvedBy != "reviewer@example.org" {
		t.Fatal("resolved_by must record the acting identity")
	}
	if got.Reason == nil || *got.Reason != "newer vitals confirmed" {
		t.Fatal("reason must be recorded")
	}
	res, _ := resources.GetByID(context.Background(), stored.ID)
	if res.SourceVersion != "4" {
		t.Fatalf("resource version = %s, want 4", res.SourceVersion)
	}
}

func TestResolveTerminalConflictFailsStale(t *testing.T) {
	eng, repo, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", nil)
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "4",
		Payload: map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	// Superseded by a newer conflict before anyone acted on it.
	if _, err := repo.SupersedePending(context.Background(), stored.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}

	err = eng.Resolve(context.Background(), rec.ID, StrategyLastWriteWins, "reviewer@example.org", ResolveOptions{})
	if !errors.Is(err, ErrStaleConflict) {
		t.Fatalf("err = %v, want ErrStaleConflict", err)
	}
	if resources.updates != 0 {
		t.Fatal("stale resolution must not mutate any state")
	}
}

func TestResolveSerializesConcurrentResolvers(t *testing.T) {
	conflicts := newMockConflictRepo()
	resources := newMockResourceRepo()

	// Unit-of-work runner standing in for a database transaction: one
	// resolver at a time, re-reads see the previous resolver's writes.
	var txMu sync.Mutex
	eng := NewEngine(conflicts, resources, nil, zerolog.Nop(),
		WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			txMu.Lock()
			defer txMu.Unlock()
			return fn(ctx)
		}))

	stored := storedResource(t, map[string]any{"status": "final"}, "3", ts("2026-01-01T10:00:00Z"))
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version:      "4",
		LastModified: ts("2026-01-01T11:00:00Z"),
		Payload:      map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AutoResolve(context.Background(), rec, StrategyManual, nil); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- eng.Resolve(context.Background(), rec.ID, StrategyLastWriteWins, "reviewer@example.org", ResolveOptions{})
		}()
	}

	var ok, stale int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			ok++
		case errors.Is(err, ErrStaleConflict):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || stale != 1 {
		t.Fatalf("results = %d resolved / %d stale, want exactly one of each", ok, stale)
	}
	if resources.updates != 1 {
		t.Fatalf("resource updated %d times, want exactly 1", resources.updates)
	}
}

func TestResolveRejectsManualStrategy(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	err := eng.Resolve(context.Background(), uuid.New(), StrategyManual, "reviewer@example.org", ResolveOptions{})
	if err == nil {
		t.Fatal("MANUAL is not an applicable resolution strategy")
	}
}

func TestResolveRequiresResolver(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	err := eng.Resolve(context.Background(), uuid.New(), StrategyLastWriteWins, "", ResolveOptions{})
	if err == nil {
		t.Fatal("resolver identity is required")
	}
}

func TestResolveUnknownMergeProfile(t *testing.T) {
	eng, _, resources := newTestEngine(t, nil)
	stored := storedResource(t, map[string]any{"status": "final"}, "3", nil)
	_ = resources.Create(context.Background(), stored)

	rec, _, err := eng.Detect(context.Background(), stored, provider.Record{
		Version: "4",
		Payload: map[string]any{"status": "amended"},
	}, "epic", "epic")
	if err != nil {
		t.Fatal(err)
	}

	err = eng.Resolve(context.Background(), rec.ID, StrategyFieldMerge, "reviewer@example.org", ResolveOptions{MergeProfile: "no-such-profile"})
	if !errors.Is(err, ErrUnknownMergeProfile) {
		t.Fatalf("err = %v, want ErrUnknownMergeProfile", err)
	}
}

func TestChangedFieldsIgnoresBookkeeping(t *testing.T) {
	stored := map[string]any{"id": "a", "meta": map[string]any{"versionId": "1"}, "status": "final"}
	incoming := map[string]any{"id": "b", "meta": map[string]any{"versionId": "2"}, "status": "final"}
	if got := ChangedFields(stored, incoming); len(got) != 0 {
		t.Fatalf("changed = %v, want none", got)
	}

	incoming["note"] = "added"
	got := ChangedFields(stored, incoming)
	if len(got) != 1 || got[0] != "note" {
		t.Fatalf("changed = %v, want [note]", got)
	}
}

func TestGroupForField(t *testing.T) {
	cases := map[string]string{
		"name":              GroupDemographics,
		"valueQuantity":     GroupVitals,
		"clinicalStatus":    GroupClinical,
		"effectiveDateTime": GroupClinical,
		"onsetDateTime":     GroupClinical,
		"somethingCustom":   GroupMetadata,
	}
	for field, want := range cases {
		if got := GroupForField(field); got != want {
			t.Errorf("GroupForField(%q) = %s, want %s", field, got, want)
		}
	}
}
