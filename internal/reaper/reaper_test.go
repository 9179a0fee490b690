package reaper

import (
	"testing"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/dispatch"
	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/registry"
	"github.com/Badareenadh/sip-event-processor/internal/store"
	"github.com/Badareenadh/sip-event-processor/internal/watcherindex"
)

type stubResponder struct{}

func (stubResponder) Respond(status int, phrase string, expires int) error            { return nil }
func (stubResponder) SendNotify(eventType, contentType, body, subState string) error { return nil }

func testDispatcher(t *testing.T) (*dispatch.Dispatcher, store.Store) {
	t.Helper()
	cfg := &config.Config{
		NumWorkers:                1,
		MaxIncomingQueuePerWorker: 64,
		MaxDialogsPerWorker:       10,
		MaxSubscriptionsPerTenant: 10,
		BLFSubscriptionTTL:        time.Millisecond,
		MWISubscriptionTTL:        time.Millisecond,
		StuckProcessingTimeout:    time.Hour,
	}
	reg := registry.New()
	idx := watcherindex.New()
	backend := store.NewMemoryBackend()
	st := store.NewSubscriptionStore(backend, config.PersistenceConfig{BatchSize: 50, SyncInterval: time.Hour}, "svc")
	st.Start()
	t.Cleanup(st.Stop)

	d := dispatch.New(cfg, reg, idx, st)
	d.Start()
	t.Cleanup(d.Stop)
	return d, st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}

func TestReaperForceTerminatesExpiredDialog(t *testing.T) {
	d, st := testDispatcher(t)

	ev := &model.Event{
		Kind:         model.EventSubscribe,
		DialogID:     "d1",
		EventPackage: "dialog",
		Expires:      3600,
		ToURI:        "sip:200@test.com",
		FromURI:      "sip:caller@test.com",
		CallID:       "d1",
		Handle:       model.NewHandle(stubResponder{}),
	}
	if err := d.Dispatch(ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	w := d.Worker(0)
	waitFor(t, func() bool { return len(w.GetStaleSubscriptions(time.Millisecond, time.Millisecond, time.Hour)) > 0 })

	r := New(d, st, 20*time.Millisecond, time.Millisecond, time.Millisecond, time.Hour)
	r.Start()
	defer r.Stop()

	waitFor(t, func() bool { return r.ExpiredReaped() > 0 })
}

func TestReaperDoesNotReReapAfterTermination(t *testing.T) {
	d, st := testDispatcher(t)
	w := d.Worker(0)

	ev := &model.Event{
		Kind:         model.EventSubscribe,
		DialogID:     "d2",
		EventPackage: "dialog",
		Expires:      3600,
		ToURI:        "sip:200@test.com",
		FromURI:      "sip:caller@test.com",
		CallID:       "d2",
		Handle:       model.NewHandle(stubResponder{}),
	}
	if err := d.Dispatch(ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitFor(t, func() bool { return len(w.GetStaleSubscriptions(time.Millisecond, time.Millisecond, time.Hour)) > 0 })

	r := New(d, st, 20*time.Millisecond, time.Millisecond, time.Millisecond, time.Hour)
	r.Start()
	defer r.Stop()

	waitFor(t, func() bool { return r.ExpiredReaped() > 0 })

	first := r.ExpiredReaped()
	// once terminated, the worker drops d2 from its dialog map entirely,
	// so later scans must not count it again.
	time.Sleep(100 * time.Millisecond)
	if r.ExpiredReaped() != first {
		t.Fatalf("dialog reaped more than once: first=%d now=%d", first, r.ExpiredReaped())
	}
}
