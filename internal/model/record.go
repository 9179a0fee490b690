package model

import "time"

// SubscriptionRecord is a dialog's persistent state. It is mutated only by
// its owning worker; every other component observes it through a copy
// returned by the registry, the store, or an index lookup.
type SubscriptionRecord struct {
	DialogID string
	TenantID string
	Type     SubscriptionType
	Lifecycle

	CreatedAt           time.Time
	LastActivity        time.Time
	ExpiresAt           time.Time
	ProcessingStartedAt time.Time

	CSeq           int
	NotifyVersion  int
	EventsProcessed int64

	CallID     string
	FromURI    string
	FromTag    string
	ToURI      string
	ToTag      string
	ContactURI string

	BLFMonitoredURI    string
	BLFLastState       string
	BLFLastDirection   string
	BLFPresenceCallID  string
	BLFLastNotifyBody  string

	MWINewMessages   int
	MWIOldMessages   int
	MWIAccountURI    string
	MWILastNotifyBody string

	IsProcessing bool
	Dirty        bool

	// NeedsFullStateNotify is set on records reconstructed by the
	// recovery path; the initial-NOTIFY handling on the next re-SUBSCRIBE
	// consumes it and replays BLFLastNotifyBody verbatim.
	NeedsFullStateNotify bool
}

// Clone returns a value copy safe to hand to callers outside the owning
// worker (registry snapshots, store serialization, admin inspection).
func (r *SubscriptionRecord) Clone() SubscriptionRecord {
	return *r
}

// IsTerminal reports whether the record has reached Terminated and can be
// garbage collected once its per-dialog queue drains.
func (r *SubscriptionRecord) IsTerminal() bool {
	return r.Lifecycle == LifecycleTerminated
}
