package registry

import (
	"testing"

	"github.com/Badareenadh/sip-event-processor/internal/model"
)

func TestRegisterUnregisterCounts(t *testing.T) {
	r := New()
	r.Register(Entry{DialogID: "d1", TenantID: "t1", Type: model.SubscriptionBLF, Lifecycle: model.LifecycleActive})
	r.Register(Entry{DialogID: "d2", TenantID: "t1", Type: model.SubscriptionMWI, Lifecycle: model.LifecycleActive})

	if got := r.CountByTenant("t1"); got != 2 {
		t.Fatalf("CountByTenant(t1) = %d, want 2", got)
	}

	r.Unregister("d1")
	if got := r.CountByTenant("t1"); got != 1 {
		t.Fatalf("CountByTenant(t1) after unregister = %d, want 1", got)
	}

	r.Unregister("d2")
	if got := r.CountByTenant("t1"); got != 0 {
		t.Fatalf("CountByTenant(t1) after draining = %d, want 0", got)
	}
}

func TestReregisterIsIdempotent(t *testing.T) {
	r := New()
	r.Register(Entry{DialogID: "d1", TenantID: "t1", Lifecycle: model.LifecycleActive})
	r.Register(Entry{DialogID: "d1", TenantID: "t1", Lifecycle: model.LifecycleTerminating})

	if got := r.CountByTenant("t1"); got != 1 {
		t.Fatalf("re-registration double-counted tenant: CountByTenant(t1) = %d", got)
	}
	e, ok := r.Get("d1")
	if !ok || e.Lifecycle != model.LifecycleTerminating {
		t.Fatalf("expected entry updated in place, got %+v ok=%v", e, ok)
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := New()
	r.Unregister("missing") // must not panic or create negative counts
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}

func TestSnapshotFilteredByTenant(t *testing.T) {
	r := New()
	r.Register(Entry{DialogID: "d1", TenantID: "t1"})
	r.Register(Entry{DialogID: "d2", TenantID: "t2"})

	snap := r.Snapshot("t1")
	if len(snap) != 1 || snap[0].DialogID != "d1" {
		t.Fatalf("Snapshot(t1) = %+v", snap)
	}
}
