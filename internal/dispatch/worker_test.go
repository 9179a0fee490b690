package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/registry"
	"github.com/Badareenadh/sip-event-processor/internal/store"
	"github.com/Badareenadh/sip-event-processor/internal/watcherindex"
)

type fakeResponder struct {
	mu       sync.Mutex
	statuses []int
	notifies []string
}

func (f *fakeResponder) Respond(status int, phrase string, expires int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeResponder) SendNotify(eventType, contentType, body, subState string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, body)
	return nil
}

func (f *fakeResponder) lastStatus() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return 0
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeResponder) notifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifies)
}

func testWorker(t *testing.T, cfg *config.Config) (*Worker, *watcherindex.Index, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	idx := watcherindex.New()
	backend := store.NewMemoryBackend()
	st := store.NewSubscriptionStore(backend, config.PersistenceConfig{BatchSize: 50, SyncInterval: time.Hour}, "svc")
	st.Start()
	t.Cleanup(st.Stop)

	w := newWorker(0, cfg, reg, idx, st)
	w.start()
	t.Cleanup(w.stop)
	return w, idx, reg
}

func baseConfig() *config.Config {
	return &config.Config{
		NumWorkers:                1,
		MaxIncomingQueuePerWorker: 64,
		MaxDialogsPerWorker:       10,
		MaxSubscriptionsPerTenant: 10,
		BLFSubscriptionTTL:        time.Hour,
		MWISubscriptionTTL:        time.Hour,
		StuckProcessingTimeout:    time.Minute,
	}
}

func subscribeEvent(dialogID, toURI, pkg string) *model.Event {
	r := &fakeResponder{}
	return &model.Event{
		Kind:         model.EventSubscribe,
		DialogID:     dialogID,
		EventPackage: pkg,
		Expires:      3600,
		ToURI:        toURI,
		FromURI:      "sip:caller@test.com",
		CallID:       dialogID,
		Handle:       model.NewHandle(r),
	}
}

func TestWorkerAdmitsBLFSubscribeAndSendsInitialNotify(t *testing.T) {
	w, idx, _ := testWorker(t, baseConfig())
	ev := subscribeEvent("d1", "sip:200@test.com", "dialog")
	r := &fakeResponder{}
	ev.Handle = model.NewHandle(r)
	responder := ev.Handle

	if err := w.enqueue(ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForCond(t, func() bool { return idx.Count() == 1 })
	waitForCond(t, func() bool { return r.notifyCount() == 1 })
	if !responder.Valid() {
		t.Fatalf("expected handle still valid after accept")
	}
}

func TestWorkerRejectsUnknownPackage(t *testing.T) {
	w, _, _ := testWorker(t, baseConfig())
	r := &fakeResponder{}
	ev := &model.Event{Kind: model.EventSubscribe, DialogID: "d1", EventPackage: "unknown-pkg", Expires: 3600, ToURI: "sip:1@a.com", Handle: model.NewHandle(r)}
	w.enqueue(ev)

	waitForCond(t, func() bool { return r.lastStatus() == 489 })
}

func TestWorkerRejectsOverTenantQuota(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSubscriptionsPerTenant = 1
	w, _, reg := testWorker(t, cfg)

	ev1 := subscribeEvent("d1", "sip:200@test.com", "dialog")
	w.enqueue(ev1)
	waitForCond(t, func() bool { _, ok := reg.Get("d1"); return ok })

	r2 := &fakeResponder{}
	ev2 := &model.Event{Kind: model.EventSubscribe, DialogID: "d2", EventPackage: "dialog", Expires: 3600, ToURI: "sip:300@test.com", FromURI: "sip:caller@test.com", Handle: model.NewHandle(r2)}
	w.enqueue(ev2)

	waitForCond(t, func() bool { return r2.lastStatus() == 403 })
}

func TestWorkerRejectsWhenWorkerFull(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxDialogsPerWorker = 1
	cfg.MaxSubscriptionsPerTenant = 100
	w, _, reg := testWorker(t, cfg)

	ev1 := subscribeEvent("d1", "sip:200@test.com", "dialog")
	w.enqueue(ev1)
	waitForCond(t, func() bool { _, ok := reg.Get("d1"); return ok })

	r2 := &fakeResponder{}
	ev2 := &model.Event{Kind: model.EventSubscribe, DialogID: "d2", EventPackage: "dialog", Expires: 3600, ToURI: "sip:300@test.com", Handle: model.NewHandle(r2)}
	w.enqueue(ev2)

	waitForCond(t, func() bool { return r2.lastStatus() == 503 })
}

func TestWorkerUnsubscribeTerminatesAndDeindexes(t *testing.T) {
	w, idx, reg := testWorker(t, baseConfig())
	ev := subscribeEvent("d1", "sip:200@test.com", "dialog")
	w.enqueue(ev)
	waitForCond(t, func() bool { return idx.Count() == 1 })

	unsub := &model.Event{Kind: model.EventSubscribe, DialogID: "d1", EventPackage: "dialog", Expires: 0, ToURI: "sip:200@test.com", Handle: ev.Handle}
	w.enqueue(unsub)

	waitForCond(t, func() bool { return idx.Count() == 0 })
	if _, ok := reg.Get("d1"); ok {
		t.Fatalf("expected dialog unregistered after unsubscribe")
	}
}

func TestWorkerForceTerminate(t *testing.T) {
	w, idx, _ := testWorker(t, baseConfig())
	ev := subscribeEvent("d1", "sip:200@test.com", "dialog")
	w.enqueue(ev)
	waitForCond(t, func() bool { return idx.Count() == 1 })

	w.ForceTerminate("d1")
	waitForCond(t, func() bool { return idx.Count() == 0 })
}

func TestWorkerPresenceTriggerSendsNotify(t *testing.T) {
	w, idx, _ := testWorker(t, baseConfig())
	ev := subscribeEvent("d1", "sip:200@test.com", "dialog")
	r := &fakeResponder{}
	ev.Handle = model.NewHandle(r)
	w.enqueue(ev)
	waitForCond(t, func() bool { return idx.Count() == 1 })

	trigger := &model.Event{
		Kind:     model.EventPresenceTrigger,
		DialogID: "d1",
		PresenceEvent: &model.CallStateEvent{
			PresenceCallID: "c1",
			CallerURI:      "sip:100@test.com",
			CalleeURI:      "sip:200@test.com",
			State:          model.CallStateConfirmed,
			Direction:      "inbound",
		},
	}
	w.enqueue(trigger)

	// one initial NOTIFY on admission, one for the presence trigger
	waitForCond(t, func() bool { return r.notifyCount() == 2 })
	if ev.Handle.Valid() == false {
		t.Fatalf("expected dialog still active after presence trigger")
	}
}

func waitForCond(t *testing.T, cond func() bool) {
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
