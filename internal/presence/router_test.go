package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/watcherindex"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	received []*model.Event
}

func (f *fakeDispatcher) Dispatch(ev *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, ev)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestRouterDispatchesToMatchingWatcher(t *testing.T) {
	idx := watcherindex.New()
	idx.Add("sip:200@test.com", "d1", "tenant")

	disp := &fakeDispatcher{}
	r := NewRouter(idx, disp, 16)
	r.Start()
	defer r.Stop()

	r.Submit(model.CallStateEvent{PresenceCallID: "c1", CallerURI: "sip:100@test.com", CalleeURI: "sip:200@test.com", State: model.CallStateConfirmed})

	waitFor(t, func() bool { return disp.count() == 1 })
}

func TestRouterNoWatcherIncrementsUnmatched(t *testing.T) {
	idx := watcherindex.New()
	disp := &fakeDispatcher{}
	r := NewRouter(idx, disp, 16)
	r.Start()
	defer r.Stop()

	r.Submit(model.CallStateEvent{PresenceCallID: "c1", CallerURI: "sip:1@a.com", CalleeURI: "sip:2@a.com"})

	waitFor(t, func() bool { return r.UnmatchedCount() == 1 })
	if disp.count() != 0 {
		t.Fatalf("expected no dispatch for unmatched event")
	}
}

func TestRouterDropsOnFullQueue(t *testing.T) {
	idx := watcherindex.New()
	disp := &fakeDispatcher{}
	r := NewRouter(idx, disp, 1)
	// Deliberately do not Start the consumer, so the queue fills up.
	r.Submit(model.CallStateEvent{PresenceCallID: "c1"})
	r.Submit(model.CallStateEvent{PresenceCallID: "c2"})

	if r.DroppedCount() != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", r.DroppedCount())
	}
}

func TestRouterUnionOfCallerAndCalleeDedup(t *testing.T) {
	idx := watcherindex.New()
	idx.Add("sip:100@test.com", "d1", "tenant")
	idx.Add("sip:200@test.com", "d1", "tenant") // same dialog watches both ends

	disp := &fakeDispatcher{}
	r := NewRouter(idx, disp, 16)
	r.Start()
	defer r.Stop()

	r.Submit(model.CallStateEvent{PresenceCallID: "c1", CallerURI: "sip:100@test.com", CalleeURI: "sip:200@test.com"})

	waitFor(t, func() bool { return disp.count() == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}
