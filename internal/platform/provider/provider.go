// Package provider defines the uniform contract the sync core uses to talk
// to external health-record sources. Each vendor ships one Adapter; the core
// stays polymorphic over the small capability set {Authenticate,
// FetchResourcesOf} plus the optional bulk-export capability. All protocol
// and OAuth mechanics live inside the adapter.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors classifying adapter failures. Adapters wrap their vendor
// errors with one of these so the core can decide between retrying,
// escalating the connection, or failing the item.
var (
	// ErrAuthenticationFailed means credentials are invalid or expired and a
	// refresh did not help. The owning connection escalates to error.
	ErrAuthenticationFailed = errors.New("provider: authentication failed")

	// ErrTransient marks a retryable network or upstream failure.
	ErrTransient = errors.New("provider: transient failure")

	// ErrUnknownVendor is returned by the registry for an unregistered tag.
	ErrUnknownVendor = errors.New("provider: unknown vendor")
)

// IsTransient reports whether err is a retryable failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsAuthFailure reports whether err is a credential failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// Record is a canonical-shaped resource as returned by an adapter.
type Record struct {
	SourceID     string         `json:"source_id"`
	ResourceType string         `json:"resource_type"`
	Version      string         `json:"version"`
	LastModified *time.Time     `json:"last_modified,omitempty"`
	Payload      map[string]any `json:"payload"`
}

// Adapter is the per-vendor capability set consumed by the sync core.
type Adapter interface {
	// Vendor returns the vendor tag this adapter serves (e.g. "epic").
	Vendor() string

	// Authenticate is idempotent; it refreshes credentials only if expired.
	Authenticate(ctx context.Context) error

	// FetchResourcesOf returns canonical-shaped records of the given type
	// modified since the given time. A nil since means no lower bound.
	FetchResourcesOf(ctx context.Context, resourceType string, since *time.Time) ([]Record, error)
}

// BulkStatus reports the state of an asynchronous bulk export request.
type BulkStatus struct {
	Done       bool
	Failed     bool
	Error      string
	OutputRefs []string
}

// BulkExporter is the optional capability for vendors supporting the
// kickoff/poll/download bulk export pattern.
type BulkExporter interface {
	// KickoffExport issues the export request and returns an opaque poll reference.
	KickoffExport(ctx context.Context, scope string, types []string, since *time.Time) (string, error)

	// ExportStatus checks the export identified by pollRef.
	ExportStatus(ctx context.Context, pollRef string) (BulkStatus, error)

	// FetchExportOutput downloads one output reference, returning its records
	// and the byte size of the downloaded batch.
	FetchExportOutput(ctx context.Context, outputRef string) ([]Record, int64, error)
}

// Registry maps vendor tags to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its vendor tag, replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Vendor()] = a
}

// Adapter returns the adapter for the given vendor tag.
func (r *Registry) Adapter(vendor string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, vendor)
	}
	return a, nil
}

// BulkExporter returns the bulk-export capability for the vendor, if the
// registered adapter supports it.
func (r *Registry) BulkExporter(vendor string) (BulkExporter, error) {
	a, err := r.Adapter(vendor)
	if err != nil {
		return nil, err
	}
	be, ok := a.(BulkExporter)
	if !ok {
		return nil, fmt.Errorf("provider: vendor %s does not support bulk export", vendor)
	}
	return be, nil
}

// Vendors returns the registered vendor tags.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for v := range r.adapters {
		out = append(out, v)
	}
	return out
}
