package presence

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/watcherindex"
)

// Dispatcher is the subset of the dialog dispatcher the router needs;
// defined here to avoid an import cycle with the dispatch package.
type Dispatcher interface {
	Dispatch(ev *model.Event) error
}

// Router consumes call-state events from the presence feed and fans them
// out as presence-trigger events to every BLF watcher of the matching
// caller/callee URIs.
type Router struct {
	index      *watcherindex.Index
	dispatcher Dispatcher

	queue chan model.CallStateEvent

	dropped   atomic.Int64
	unmatched atomic.Int64
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRouter builds a router with a bounded queue of capacity cap.
func NewRouter(index *watcherindex.Index, dispatcher Dispatcher, capacity int) *Router {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Router{
		index:      index,
		dispatcher: dispatcher,
		queue:      make(chan model.CallStateEvent, capacity),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the single consumer goroutine.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop signals the consumer to exit and waits for it. Idempotent.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Submit enqueues an event from the presence client's onEvent callback.
// On a full queue the event is dropped (drop-newest) and a counter bumped.
func (r *Router) Submit(ev model.CallStateEvent) {
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		slog.Warn("[PresenceRouter] queue full, dropping event", "call_id", ev.PresenceCallID)
	}
}

// DroppedCount returns the number of events dropped due to a full queue.
func (r *Router) DroppedCount() int64 { return r.dropped.Load() }

// UnmatchedCount returns the number of events with no matching watcher.
func (r *Router) UnmatchedCount() int64 { return r.unmatched.Load() }

func (r *Router) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case ev := <-r.queue:
			r.route(ev)
		}
	}
}

func (r *Router) route(ev model.CallStateEvent) {
	var targets []model.Watcher
	seen := make(map[string]bool)

	for _, w := range r.index.Lookup(ev.CalleeURI) {
		if seen[w.DialogID] {
			continue
		}
		seen[w.DialogID] = true
		targets = append(targets, w)
	}
	for _, w := range r.index.Lookup(ev.CallerURI) {
		if seen[w.DialogID] {
			continue
		}
		seen[w.DialogID] = true
		targets = append(targets, w)
	}

	if len(targets) == 0 {
		r.unmatched.Add(1)
		return
	}

	for _, w := range targets {
		evCopy := ev
		trigger := &model.Event{
			Kind:          model.EventPresenceTrigger,
			DialogID:      w.DialogID,
			PresenceEvent: &evCopy,
		}
		if err := r.dispatcher.Dispatch(trigger); err != nil {
			slog.Warn("[PresenceRouter] dispatch failed", "dialog_id", w.DialogID, "err", err)
		}
	}
}
