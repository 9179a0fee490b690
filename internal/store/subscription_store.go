package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/model"
)

// Store is the subscription store's external contract, consumed by the
// dialog workers, the reaper, and the recovery path in app wiring.
type Store interface {
	SaveImmediately(ctx context.Context, rec model.SubscriptionRecord) error
	DeleteImmediately(ctx context.Context, dialogID string) error
	Enqueue(rec model.SubscriptionRecord)
	QueueDelete(dialogID string)
	LoadActiveSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error)
	LoadSubscription(ctx context.Context, dialogID string) (model.SubscriptionRecord, bool, error)
	Start()
	Stop()
}

type pendingOp struct {
	isDelete bool
	rec      model.SubscriptionRecord
	dialogID string
}

// SubscriptionStore implements Store on top of a Backend, with an
// immediate path for lifecycle edges and a batched background goroutine
// for steady-state dirty writes.
type SubscriptionStore struct {
	backend   Backend
	serviceID string
	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	pending []pendingOp
	signal  chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSubscriptionStore builds a store over backend using cfg's persistence
// settings for batch size and sync interval.
func NewSubscriptionStore(backend Backend, cfg config.PersistenceConfig, serviceID string) *SubscriptionStore {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SubscriptionStore{
		backend:   backend,
		serviceID: serviceID,
		batchSize: batchSize,
		interval:  interval,
		signal:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the batched-write background goroutine.
func (s *SubscriptionStore) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the background goroutine to drain pending writes and exit.
// Idempotent.
func (s *SubscriptionStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// SaveImmediately upserts rec synchronously, used on lifecycle edges
// (creation, activation, termination).
func (s *SubscriptionStore) SaveImmediately(ctx context.Context, rec model.SubscriptionRecord) error {
	if err := s.backend.Upsert(ctx, s.toDocument(rec)); err != nil {
		slog.Warn("[SubscriptionStore] immediate save failed", "dialog_id", rec.DialogID, "err", err)
		return err
	}
	return nil
}

// DeleteImmediately deletes dialogID synchronously.
func (s *SubscriptionStore) DeleteImmediately(ctx context.Context, dialogID string) error {
	if err := s.backend.Delete(ctx, dialogID); err != nil {
		slog.Warn("[SubscriptionStore] immediate delete failed", "dialog_id", dialogID, "err", err)
		return err
	}
	return nil
}

// Enqueue queues rec for batched write-behind. Non-blocking.
func (s *SubscriptionStore) Enqueue(rec model.SubscriptionRecord) {
	s.mu.Lock()
	s.pending = append(s.pending, pendingOp{rec: rec})
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.wake()
	}
}

// QueueDelete queues a delete for batched write-behind.
func (s *SubscriptionStore) QueueDelete(dialogID string) {
	s.mu.Lock()
	s.pending = append(s.pending, pendingOp{isDelete: true, dialogID: dialogID})
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.wake()
	}
}

// PendingCount reports how many writes are currently queued for batched
// write-behind, for the admin stats endpoint and metrics.
func (s *SubscriptionStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *SubscriptionStore) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *SubscriptionStore) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		case <-s.signal:
			s.flush()
		}
	}
}

// flush swaps out the pending queue and applies each op in order, one at
// a time, against the backend.
func (s *SubscriptionStore) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	ctx := context.Background()
	for _, op := range batch {
		var err error
		if op.isDelete {
			err = s.backend.Delete(ctx, op.dialogID)
		} else {
			err = s.backend.Upsert(ctx, s.toDocument(op.rec))
		}
		if err != nil {
			slog.Warn("[SubscriptionStore] batched write failed", "err", err)
		}
	}
}

// LoadActiveSubscriptions returns every record with lifecycle in
// {Active, Pending}, each marked NeedsFullStateNotify for the caller to
// re-dispatch to its owning worker's recovery path.
func (s *SubscriptionStore) LoadActiveSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error) {
	pending, err := s.backend.Query(ctx, map[string]string{"lifecycle": model.LifecyclePending.String()})
	if err != nil {
		return nil, err
	}
	active, err := s.backend.Query(ctx, map[string]string{"lifecycle": model.LifecycleActive.String()})
	if err != nil {
		return nil, err
	}

	out := make([]model.SubscriptionRecord, 0, len(pending)+len(active))
	for _, doc := range append(pending, active...) {
		if doc.DialogID == "" {
			continue
		}
		rec := s.fromDocument(doc)
		rec.NeedsFullStateNotify = true
		out = append(out, rec)
	}
	return out, nil
}

// LoadSubscription returns the single record for dialogID, using the same
// field extraction as LoadActiveSubscriptions.
func (s *SubscriptionStore) LoadSubscription(ctx context.Context, dialogID string) (model.SubscriptionRecord, bool, error) {
	doc, ok, err := s.backend.Get(ctx, dialogID)
	if err != nil || !ok {
		return model.SubscriptionRecord{}, false, err
	}
	rec := s.fromDocument(doc)
	rec.NeedsFullStateNotify = true
	return rec, true, nil
}

func (s *SubscriptionStore) toDocument(rec model.SubscriptionRecord) Document {
	now := time.Now()
	return Document{
		DialogID: rec.DialogID,
		Fields: map[string]string{
			"tenant_id":           rec.TenantID,
			"type":                rec.Type.String(),
			"lifecycle":           rec.Lifecycle.String(),
			"call_id":             rec.CallID,
			"from_uri":            rec.FromURI,
			"from_tag":            rec.FromTag,
			"to_uri":              rec.ToURI,
			"to_tag":              rec.ToTag,
			"contact_uri":         rec.ContactURI,
			"blf_monitored_uri":   rec.BLFMonitoredURI,
			"blf_last_state":      rec.BLFLastState,
			"blf_last_direction":  rec.BLFLastDirection,
			"blf_presence_callid": rec.BLFPresenceCallID,
			"blf_last_notify":     rec.BLFLastNotifyBody,
			"mwi_account_uri":     rec.MWIAccountURI,
			"mwi_last_notify":     rec.MWILastNotifyBody,
		},
		Ints: map[string]int64{
			"cseq":             int64(rec.CSeq),
			"notify_version":   int64(rec.NotifyVersion),
			"events_processed": rec.EventsProcessed,
			"mwi_new":          int64(rec.MWINewMessages),
			"mwi_old":          int64(rec.MWIOldMessages),
			"created_at":       rec.CreatedAt.Unix(),
			"last_activity":    rec.LastActivity.Unix(),
		},
		UpdatedAt: now.Unix(),
		ExpiresAt: rec.ExpiresAt.Unix(),
		ServiceID: s.serviceID,
	}
}

func (s *SubscriptionStore) fromDocument(doc Document) model.SubscriptionRecord {
	f := doc.Fields
	i := doc.Ints
	return model.SubscriptionRecord{
		DialogID:          doc.DialogID,
		TenantID:          f["tenant_id"],
		Type:              parseSubscriptionType(f["type"]),
		Lifecycle:         model.ParseLifecycle(f["lifecycle"]),
		CallID:            f["call_id"],
		FromURI:           f["from_uri"],
		FromTag:           f["from_tag"],
		ToURI:             f["to_uri"],
		ToTag:             f["to_tag"],
		ContactURI:        f["contact_uri"],
		BLFMonitoredURI:   f["blf_monitored_uri"],
		BLFLastState:      f["blf_last_state"],
		BLFLastDirection:  f["blf_last_direction"],
		BLFPresenceCallID: f["blf_presence_callid"],
		BLFLastNotifyBody: f["blf_last_notify"],
		MWIAccountURI:     f["mwi_account_uri"],
		MWILastNotifyBody: f["mwi_last_notify"],
		CSeq:              int(i["cseq"]),
		NotifyVersion:     int(i["notify_version"]),
		EventsProcessed:   i["events_processed"],
		MWINewMessages:    int(i["mwi_new"]),
		MWIOldMessages:    int(i["mwi_old"]),
		CreatedAt:         time.Unix(i["created_at"], 0),
		LastActivity:      time.Unix(i["last_activity"], 0),
		ExpiresAt:         time.Unix(doc.ExpiresAt, 0),
	}
}

func parseSubscriptionType(s string) model.SubscriptionType {
	switch s {
	case "BLF":
		return model.SubscriptionBLF
	case "MWI":
		return model.SubscriptionMWI
	default:
		return model.SubscriptionUnknown
	}
}
