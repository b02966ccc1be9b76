package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SandboxAdapter is an in-memory vendor used in development and tests. It
// serves seeded records, supports the bulk export flow, and never talks to
// the network.
type SandboxAdapter struct {
	mu      sync.Mutex
	vendor  string
	records map[string][]Record
	exports map[string]sandboxExport
}

type sandboxExport struct {
	types     []string
	since     *time.Time
	readyAt   time.Time
	outputRef string
}

// NewSandboxAdapter creates a sandbox adapter under the given vendor tag.
func NewSandboxAdapter(vendor string) *SandboxAdapter {
	return &SandboxAdapter{
		vendor:  vendor,
		records: make(map[string][]Record),
		exports: make(map[string]sandboxExport),
	}
}

// Seed adds records served for the given resource type.
func (s *SandboxAdapter) Seed(resourceType string, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[resourceType] = append(s.records[resourceType], records...)
}

func (s *SandboxAdapter) Vendor() string { return s.vendor }

func (s *SandboxAdapter) Authenticate(ctx context.Context) error { return nil }

func (s *SandboxAdapter) FetchResourcesOf(ctx context.Context, resourceType string, since *time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records[resourceType] {
		if since != nil && rec.LastModified != nil && !rec.LastModified.After(*since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// KickoffExport registers an export that is ready on the next status poll.
func (s *SandboxAdapter) KickoffExport(ctx context.Context, scope string, types []string, since *time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := uuid.NewString()
	s.exports[ref] = sandboxExport{
		types:     types,
		since:     since,
		readyAt:   time.Now(),
		outputRef: ref,
	}
	return ref, nil
}

func (s *SandboxAdapter) ExportStatus(ctx context.Context, pollRef string) (BulkStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.exports[pollRef]
	if !ok {
		return BulkStatus{}, fmt.Errorf("sandbox: unknown poll ref %s", pollRef)
	}
	if time.Now().Before(exp.readyAt) {
		return BulkStatus{}, nil
	}
	return BulkStatus{Done: true, OutputRefs: []string{exp.outputRef}}, nil
}

func (s *SandboxAdapter) FetchExportOutput(ctx context.Context, outputRef string) ([]Record, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.exports[outputRef]
	if !ok {
		return nil, 0, fmt.Errorf("sandbox: unknown output ref %s", outputRef)
	}
	types := exp.types
	if len(types) == 0 {
		for resourceType := range s.records {
			types = append(types, resourceType)
		}
	}
	var out []Record
	var size int64
	for _, resourceType := range types {
		for _, rec := range s.records[resourceType] {
			out = append(out, rec)
			size += int64(len(rec.SourceID) + len(rec.Version))
			for k, v := range rec.Payload {
				size += int64(len(k) + len(fmt.Sprint(v)))
			}
		}
	}
	return out, size, nil
}
