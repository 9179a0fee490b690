// Package watcherindex is the BLF fanout table: normalized monitored URI ->
// ordered watchers, with a reverse dialog_id -> URI map so a dialog can be
// removed in O(1 + w).
package watcherindex

import (
	"log/slog"
	"sync"

	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/sipuri"
)

// Index maps a normalized monitored URI to its watchers. Reads take an
// RLock and return a copied snapshot so callers never hold a lock; writes
// are serialized behind a single Lock, matching the reader-heavy,
// writer-concurrent contract in the component design.
type Index struct {
	mu sync.RWMutex

	byURI    map[string][]model.Watcher
	byDialog map[string]string // dialog_id -> normalized URI currently indexed
}

// New creates an empty watcher index.
func New() *Index {
	return &Index{
		byURI:    make(map[string][]model.Watcher),
		byDialog: make(map[string]string),
	}
}

// Add indexes dialogID as a watcher of rawURI. No-op if already present
// under the same normalized URI; if the dialog was previously indexed
// under a different URI, it is moved atomically.
func (idx *Index) Add(rawURI, dialogID, tenantID string) {
	normalized := sipuri.Normalize(rawURI)
	if normalized == "" || dialogID == "" {
		slog.Warn("[WatcherIndex] add with empty uri or dialog_id", "uri", rawURI, "dialog_id", dialogID)
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if current, ok := idx.byDialog[dialogID]; ok {
		if current == normalized {
			return
		}
		idx.removeLocked(current, dialogID)
	}

	idx.byURI[normalized] = append(idx.byURI[normalized], model.Watcher{DialogID: dialogID, TenantID: tenantID})
	idx.byDialog[dialogID] = normalized
}

// Remove de-indexes dialogID from rawURI's watcher list. Idempotent.
func (idx *Index) Remove(rawURI, dialogID string) {
	normalized := sipuri.Normalize(rawURI)
	if normalized == "" || dialogID == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(normalized, dialogID)
}

// RemoveDialog de-indexes dialogID regardless of which URI it was under.
// Idempotent.
func (idx *Index) RemoveDialog(dialogID string) {
	if dialogID == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	normalized, ok := idx.byDialog[dialogID]
	if !ok {
		return
	}
	idx.removeLocked(normalized, dialogID)
}

// removeLocked must be called with idx.mu held for writing.
func (idx *Index) removeLocked(normalized, dialogID string) {
	watchers := idx.byURI[normalized]
	for i, w := range watchers {
		if w.DialogID == dialogID {
			watchers = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
	if len(watchers) == 0 {
		delete(idx.byURI, normalized)
	} else {
		idx.byURI[normalized] = watchers
	}
	delete(idx.byDialog, dialogID)
}

// Lookup returns a snapshot of the watchers for rawURI.
func (idx *Index) Lookup(rawURI string) []model.Watcher {
	normalized := sipuri.Normalize(rawURI)
	if normalized == "" {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneWatchers(idx.byURI[normalized])
}

// LookupTenant returns a snapshot of the watchers for rawURI filtered to tenantID.
func (idx *Index) LookupTenant(rawURI, tenantID string) []model.Watcher {
	all := idx.Lookup(rawURI)
	if tenantID == "" {
		return all
	}
	filtered := make([]model.Watcher, 0, len(all))
	for _, w := range all {
		if w.TenantID == tenantID {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// Count returns the number of distinct monitored URIs currently indexed.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byURI)
}

// WatcherCount returns the total number of indexed watchers across all URIs.
func (idx *Index) WatcherCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, w := range idx.byURI {
		n += len(w)
	}
	return n
}

func cloneWatchers(src []model.Watcher) []model.Watcher {
	if len(src) == 0 {
		return nil
	}
	out := make([]model.Watcher, len(src))
	copy(out, src)
	return out
}
