package store

import (
	"context"
	"testing"
)

func TestMemoryBackendUpsertGetDelete(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	doc := Document{DialogID: "d1", Fields: map[string]string{"lifecycle": "Active"}}
	if err := b.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := b.Get(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Fields["lifecycle"] != "Active" {
		t.Fatalf("got = %+v", got)
	}

	if err := b.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "d1"); ok {
		t.Fatalf("expected record gone after delete")
	}
}

func TestMemoryBackendQueryFilter(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	b.Upsert(ctx, Document{DialogID: "d1", Fields: map[string]string{"lifecycle": "Active"}})
	b.Upsert(ctx, Document{DialogID: "d2", Fields: map[string]string{"lifecycle": "Pending"}})

	results, err := b.Query(ctx, map[string]string{"lifecycle": "Active"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].DialogID != "d1" {
		t.Fatalf("results = %+v", results)
	}
}

func TestMemoryBackendDeleteUnknownIsNoop(t *testing.T) {
	b := NewMemoryBackend()
	if err := b.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}
}
