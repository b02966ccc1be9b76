package bulkexport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/domain/connection"
	"github.com/holovitals/synccore/internal/platform/provider"
)

type mockJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*BulkExportJob
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[uuid.UUID]*BulkExportJob)}
}

func (m *mockJobRepo) Create(_ context.Context, job *BulkExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = uuid.New()
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *mockJobRepo) Update(_ context.Context, job *BulkExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *mockJobRepo) GetByID(_ context.Context, id uuid.UUID) (*BulkExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

func (m *mockJobRepo) ListByConnection(_ context.Context, connectionID uuid.UUID, limit, offset int) ([]*BulkExportJob, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*BulkExportJob
	for _, job := range m.jobs {
		if job.ConnectionID == connectionID {
			items = append(items, job)
		}
	}
	return items, len(items), nil
}

type fakeOutput struct {
	records []provider.Record
	size    int64
}

type fakeExporter struct {
	vendor   string
	kickErr  error
	pollRef  string
	statuses []provider.BulkStatus
	polls    int
	outputs  map[string]fakeOutput
}

func (f *fakeExporter) Vendor() string                      { return f.vendor }
func (f *fakeExporter) Authenticate(context.Context) error  { return nil }
func (f *fakeExporter) FetchResourcesOf(context.Context, string, *time.Time) ([]provider.Record, error) {
	return nil, nil
}

func (f *fakeExporter) KickoffExport(_ context.Context, scope string, types []string, since *time.Time) (string, error) {
	if f.kickErr != nil {
		return "", f.kickErr
	}
	return f.pollRef, nil
}

func (f *fakeExporter) ExportStatus(_ context.Context, pollRef string) (provider.BulkStatus, error) {
	i := f.polls
	f.polls++
	if i >= len(f.statuses) {
		if len(f.statuses) == 0 {
			return provider.BulkStatus{}, nil
		}
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[i], nil
}

func (f *fakeExporter) FetchExportOutput(_ context.Context, outputRef string) ([]provider.Record, int64, error) {
	out, ok := f.outputs[outputRef]
	if !ok {
		return nil, 0, fmt.Errorf("unknown output ref %s", outputRef)
	}
	return out.records, out.size, nil
}

func newTestTracker(t *testing.T, exporter *fakeExporter, opts Options) (*Tracker, *mockJobRepo, *connection.Connection) {
	t.Helper()
	repo := newMockJobRepo()
	registry := provider.NewRegistry()
	registry.Register(exporter)
	tracker := NewTracker(repo, registry, opts, zerolog.Nop())
	tracker.sleep = func(context.Context, time.Duration) error { return nil }
	conn := &connection.Connection{ID: uuid.New(), Vendor: exporter.vendor, Status: connection.StatusActive}
	return tracker, repo, conn
}

func bulkRecord(sourceID string) provider.Record {
	return provider.Record{
		SourceID:     sourceID,
		ResourceType: "Observation",
		Version:      "1",
		Payload:      map[string]any{"value": 1.0},
	}
}

func collectIngest(got *[]provider.Record) IngestFunc {
	return func(_ context.Context, rec provider.Record) error {
		*got = append(*got, rec)
		return nil
	}
}

func TestCompletedExportIngestsAllOutput(t *testing.T) {
	exporter := &fakeExporter{
		vendor:  "epic",
		pollRef: "poll-1",
		statuses: []provider.BulkStatus{
			{},
			{Done: true, OutputRefs: []string{"out-1", "out-2"}},
		},
		outputs: map[string]fakeOutput{
			"out-1": {records: []provider.Record{bulkRecord("a"), bulkRecord("b")}, size: 100},
			"out-2": {records: []provider.Record{bulkRecord("c")}, size: 50},
		},
	}
	tracker, repo, conn := newTestTracker(t, exporter, Options{})

	var got []provider.Record
	job, err := tracker.Run(context.Background(), conn, ScopePatient, []string{"Observation"}, nil, collectIngest(&got))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ResourcesIngested != 3 || job.BytesDownloaded != 150 {
		t.Fatalf("counters = %d resources / %d bytes, want 3/150", job.ResourcesIngested, job.BytesDownloaded)
	}
	if len(got) != 3 {
		t.Fatalf("ingested %d records, want 3", len(got))
	}
	stored, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if stored.Status != StatusCompleted || len(stored.OutputRefs) != 2 {
		t.Fatalf("persisted job = %s with %d refs, want completed with 2", stored.Status, len(stored.OutputRefs))
	}
}

func TestExportNeverFinishingExpiresAndIngestsNothing(t *testing.T) {
	exporter := &fakeExporter{vendor: "epic", pollRef: "poll-1"}
	tracker, repo, conn := newTestTracker(t, exporter, Options{
		PollInterval: time.Minute,
		MaxWait:      5 * time.Minute,
	})
	now := time.Now()
	tracker.SetClock(func() time.Time { return now })
	tracker.sleep = func(context.Context, time.Duration) error {
		now = now.Add(2 * time.Minute)
		return nil
	}

	var got []provider.Record
	job, err := tracker.Run(context.Background(), conn, ScopePatient, nil, nil, collectIngest(&got))
	if !errors.Is(err, ErrExportTimeout) {
		t.Fatalf("err = %v, want ErrExportTimeout", err)
	}
	if job.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", job.Status)
	}
	if job.ResourcesIngested != 0 || len(got) != 0 {
		t.Fatalf("expired export ingested %d records, want 0", len(got))
	}
	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != StatusExpired || stored.Error == nil {
		t.Fatalf("persisted job = %+v, want expired with error detail", stored)
	}
}

func TestSourceReportedFailureFailsJob(t *testing.T) {
	exporter := &fakeExporter{
		vendor:   "epic",
		pollRef:  "poll-1",
		statuses: []provider.BulkStatus{{Failed: true, Error: "export rejected"}},
	}
	tracker, _, conn := newTestTracker(t, exporter, Options{})

	var got []provider.Record
	job, err := tracker.Run(context.Background(), conn, ScopePatient, nil, nil, collectIngest(&got))
	if err == nil {
		t.Fatal("expected failure error")
	}
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if len(got) != 0 {
		t.Fatalf("failed export ingested %d records, want 0", len(got))
	}
}

func TestKickoffFailureFailsJob(t *testing.T) {
	exporter := &fakeExporter{vendor: "epic", kickErr: fmt.Errorf("kickoff: %w", provider.ErrTransient)}
	tracker, _, conn := newTestTracker(t, exporter, Options{})

	job, err := tracker.Run(context.Background(), conn, ScopePatient, nil, nil, collectIngest(new([]provider.Record)))
	if err == nil {
		t.Fatal("expected kickoff error")
	}
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestCancellationDuringPollCancelsJob(t *testing.T) {
	exporter := &fakeExporter{vendor: "epic", pollRef: "poll-1"}
	tracker, _, conn := newTestTracker(t, exporter, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	tracker.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	job, err := tracker.Run(ctx, conn, ScopePatient, nil, nil, collectIngest(new([]provider.Record)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if job.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
}

func TestIngestErrorNotCounted(t *testing.T) {
	exporter := &fakeExporter{
		vendor:   "epic",
		pollRef:  "poll-1",
		statuses: []provider.BulkStatus{{Done: true, OutputRefs: []string{"out-1"}}},
		outputs: map[string]fakeOutput{
			"out-1": {records: []provider.Record{bulkRecord("a"), bulkRecord("b")}, size: 10},
		},
	}
	tracker, _, conn := newTestTracker(t, exporter, Options{})

	ingest := func(_ context.Context, rec provider.Record) error {
		if rec.SourceID == "a" {
			return fmt.Errorf("record a not stored")
		}
		return nil
	}
	job, err := tracker.Run(context.Background(), conn, ScopePatient, nil, nil, ingest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ResourcesIngested != 1 {
		t.Fatalf("resources ingested = %d, want 1", job.ResourcesIngested)
	}
}

func TestInvalidScopeRejected(t *testing.T) {
	exporter := &fakeExporter{vendor: "epic"}
	tracker, _, conn := newTestTracker(t, exporter, Options{})

	if _, err := tracker.Run(context.Background(), conn, Scope("everything"), nil, nil, collectIngest(new([]provider.Record))); err == nil {
		t.Fatal("expected invalid scope error")
	}
}
