// Package registry is the process-wide directory of dialog_id -> metadata,
// with a per-tenant count index for O(1) admission checks.
package registry

import (
	"sync"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/model"
)

// Entry is the registry's per-dialog metadata snapshot.
type Entry struct {
	DialogID     string
	TenantID     string
	Type         model.SubscriptionType
	Lifecycle    model.Lifecycle
	LastActivity time.Time
	WorkerIndex  int
}

// Registry is the process-wide dialog directory. All access is serialized
// behind a single mutex; lookups return copies.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	tenants map[string]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		tenants: make(map[string]int),
	}
}

// Register inserts or updates an entry. Re-registration of an existing
// dialog_id updates the entry in place without double-counting the tenant.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[e.DialogID]; ok {
		if existing.TenantID != e.TenantID {
			r.decrementTenantLocked(existing.TenantID)
			r.tenants[e.TenantID]++
		}
		r.entries[e.DialogID] = e
		return
	}

	r.entries[e.DialogID] = e
	r.tenants[e.TenantID]++
}

// Unregister removes a dialog_id and decrements its tenant counter,
// removing the tenant entry entirely once it reaches zero.
func (r *Registry) Unregister(dialogID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[dialogID]
	if !ok {
		return
	}
	delete(r.entries, dialogID)
	r.decrementTenantLocked(existing.TenantID)
}

func (r *Registry) decrementTenantLocked(tenantID string) {
	count, ok := r.tenants[tenantID]
	if !ok {
		return
	}
	count--
	if count <= 0 {
		delete(r.tenants, tenantID)
	} else {
		r.tenants[tenantID] = count
	}
}

// Get returns a copy of the entry for dialogID, if present.
func (r *Registry) Get(dialogID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[dialogID]
	return e, ok
}

// CountByTenant returns the number of registered dialogs for tenantID.
func (r *Registry) CountByTenant(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenants[tenantID]
}

// Count returns the total number of registered dialogs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a copy of every registered entry, optionally filtered by
// tenantID (empty string returns all entries).
func (r *Registry) Snapshot(tenantID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if tenantID == "" || e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}
