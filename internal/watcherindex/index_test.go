package watcherindex

import "testing"

func TestAddLookup(t *testing.T) {
	idx := New()
	idx.Add("sip:200@test.com", "d1", "test.com")

	watchers := idx.Lookup("sip:200@TEST.COM;transport=tcp")
	if len(watchers) != 1 || watchers[0].DialogID != "d1" {
		t.Fatalf("Lookup() = %+v, want one watcher d1", watchers)
	}
}

func TestAddMoveOnDifferentURI(t *testing.T) {
	idx := New()
	idx.Add("sip:200@test.com", "d1", "test.com")
	idx.Add("sip:300@test.com", "d1", "test.com")

	if w := idx.Lookup("sip:200@test.com"); len(w) != 0 {
		t.Fatalf("expected d1 moved off sip:200, got %+v", w)
	}
	if w := idx.Lookup("sip:300@test.com"); len(w) != 1 {
		t.Fatalf("expected d1 indexed under sip:300, got %+v", w)
	}
}

func TestAddSameURINoop(t *testing.T) {
	idx := New()
	idx.Add("sip:200@test.com", "d1", "test.com")
	idx.Add("sip:200@test.com", "d1", "test.com")

	if w := idx.Lookup("sip:200@test.com"); len(w) != 1 {
		t.Fatalf("expected exactly one watcher after duplicate add, got %+v", w)
	}
}

func TestRemoveDialogIdempotent(t *testing.T) {
	idx := New()
	idx.Add("sip:200@test.com", "d1", "test.com")
	idx.RemoveDialog("d1")
	idx.RemoveDialog("d1") // must not panic

	if w := idx.Lookup("sip:200@test.com"); len(w) != 0 {
		t.Fatalf("expected empty lookup after removal, got %+v", w)
	}
	if idx.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", idx.Count())
	}
}

func TestLookupTenantFilter(t *testing.T) {
	idx := New()
	idx.Add("sip:200@test.com", "d1", "tenantA")
	idx.Add("sip:200@test.com", "d2", "tenantB")

	a := idx.LookupTenant("sip:200@test.com", "tenantA")
	if len(a) != 1 || a[0].DialogID != "d1" {
		t.Fatalf("LookupTenant(tenantA) = %+v", a)
	}
}

func TestEmptyArgsNoop(t *testing.T) {
	idx := New()
	idx.Add("", "d1", "tenant")
	idx.Add("sip:200@test.com", "", "tenant")

	if idx.Count() != 0 {
		t.Fatalf("expected no-op on empty args, Count() = %d", idx.Count())
	}
}

func TestLookupReturnsIndependentCopy(t *testing.T) {
	idx := New()
	idx.Add("sip:200@test.com", "d1", "test.com")

	snapshot := idx.Lookup("sip:200@test.com")
	snapshot[0].DialogID = "mutated"

	fresh := idx.Lookup("sip:200@test.com")
	if fresh[0].DialogID != "d1" {
		t.Fatalf("mutating a lookup snapshot affected index state: %+v", fresh)
	}
}
