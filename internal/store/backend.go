// Package store implements the durable subscription store: a document
// persistence contract (Backend) plus the two-path (immediate/batched)
// SubscriptionStore built on top of it.
package store

import "context"

// Document is the on-disk representation of a SubscriptionRecord: scalar
// fields only, keyed by dialog_id, matching the document-store contract
// in the external interfaces section of the spec.
type Document struct {
	DialogID  string
	Fields    map[string]string
	Ints      map[string]int64
	UpdatedAt int64 // seconds since epoch
	ExpiresAt int64 // seconds since epoch
	ServiceID string
}

// Backend is the persistence contract the subscription store is built on.
// No document-store driver appears anywhere in the retrieval pack with an
// actual import site (see DESIGN.md), so the only implementation shipped
// here is an in-memory one; Backend exists so a real driver can be dropped
// in without touching SubscriptionStore.
type Backend interface {
	// Upsert inserts or replaces the document at key dialog_id.
	Upsert(ctx context.Context, doc Document) error
	// Delete removes the document at key dialog_id. Not found is not an error.
	Delete(ctx context.Context, dialogID string) error
	// Query returns every document whose Fields match all of filter exactly.
	Query(ctx context.Context, filter map[string]string) ([]Document, error)
	// Get returns the document at key dialog_id.
	Get(ctx context.Context, dialogID string) (Document, bool, error)
}
