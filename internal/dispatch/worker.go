package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/blf"
	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/mwi"
	"github.com/Badareenadh/sip-event-processor/internal/procerr"
	"github.com/Badareenadh/sip-event-processor/internal/registry"
	"github.com/Badareenadh/sip-event-processor/internal/store"
	"github.com/Badareenadh/sip-event-processor/internal/watcherindex"
)

const cycleTick = 100 * time.Millisecond

// dialogContext is a worker's private bookkeeping for one dialog: the
// record plus the SIP handle used to answer it, never shared outside the
// owning worker's goroutine.
type dialogContext struct {
	record model.SubscriptionRecord
	handle *model.Handle
}

// Worker owns a private shard of dialogs. All mutation of dialogContext
// happens on the worker's own goroutine; the mutex exists only so the
// reaper's stale-subscription scan and the admin snapshot can take a
// point-in-time read from another goroutine.
type Worker struct {
	id  int
	cfg *config.Config

	registry *registry.Registry
	index    *watcherindex.Index
	store    store.Store

	incoming chan *model.Event

	mu      sync.Mutex
	dialogs map[string]*dialogContext
	queues  map[string][]*model.Event

	forceMu  sync.Mutex
	forceIDs []string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	eventsProcessed  atomic.Int64
	eventsDropped    atomic.Int64
	capacityExceeded atomic.Int64
	errors           atomic.Int64
}

func newWorker(id int, cfg *config.Config, reg *registry.Registry, idx *watcherindex.Index, st store.Store) *Worker {
	return &Worker{
		id:       id,
		cfg:      cfg,
		registry: reg,
		index:    idx,
		store:    st,
		incoming: make(chan *model.Event, cfg.MaxIncomingQueuePerWorker),
		dialogs:  make(map[string]*dialogContext),
		queues:   make(map[string][]*model.Event),
		stopCh:   make(chan struct{}),
	}
}

func (w *Worker) start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
}

// enqueue is the dispatcher's entry point; non-blocking.
func (w *Worker) enqueue(ev *model.Event) error {
	select {
	case w.incoming <- ev:
		return nil
	default:
		w.capacityExceeded.Add(1)
		return procerr.ErrCapacityExceeded
	}
}

// ForceTerminate queues dialogID for out-of-band termination, drained
// ahead of normal event processing on the worker's next cycle.
func (w *Worker) ForceTerminate(dialogID string) {
	w.forceMu.Lock()
	w.forceIDs = append(w.forceIDs, dialogID)
	w.forceMu.Unlock()
}

// LoadRecoveredSubscription must be called before start(); it is
// lock-free by contract since no other goroutine is running yet.
func (w *Worker) LoadRecoveredSubscription(rec model.SubscriptionRecord) {
	dc := &dialogContext{record: rec}
	w.dialogs[rec.DialogID] = dc
	if rec.Type == model.SubscriptionBLF && rec.BLFMonitoredURI != "" && rec.Lifecycle == model.LifecycleActive {
		w.index.Add(rec.BLFMonitoredURI, rec.DialogID, rec.TenantID)
	}
	w.registry.Register(registry.Entry{
		DialogID:     rec.DialogID,
		TenantID:     rec.TenantID,
		Type:         rec.Type,
		Lifecycle:    rec.Lifecycle,
		LastActivity: rec.LastActivity,
		WorkerIndex:  w.id,
	})
}

func (w *Worker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(cycleTick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.drainIncomingNonBlocking()
			w.drainForceTerminations()
			w.processUntilEmpty()
			w.releaseAllHandles()
			return
		case ev := <-w.incoming:
			w.admitOrQueue(ev)
			w.drainIncomingNonBlocking()
		case <-ticker.C:
		}

		w.drainForceTerminations()
		w.processRoundRobin()
	}
}

func (w *Worker) drainIncomingNonBlocking() {
	for {
		select {
		case ev := <-w.incoming:
			w.admitOrQueue(ev)
		default:
			return
		}
	}
}

// admitOrQueue applies admission rules for events on unknown dialogs, then
// appends to the dialog's private queue.
func (w *Worker) admitOrQueue(ev *model.Event) {
	w.mu.Lock()
	_, known := w.dialogs[ev.DialogID]
	w.mu.Unlock()

	if known {
		w.queues[ev.DialogID] = append(w.queues[ev.DialogID], ev)
		return
	}

	if ev.Kind == model.EventPresenceTrigger {
		w.eventsDropped.Add(1)
		return
	}
	if ev.Kind != model.EventSubscribe {
		w.eventsDropped.Add(1)
		return
	}

	tenantID := deriveTenant(ev.ToURI, ev.FromURI)
	subType := subscriptionTypeFromPackage(ev.EventPackage)

	switch {
	case subType == model.SubscriptionUnknown:
		respond(ev, 489, "Bad Event")
		ev.Handle.Release()
		w.eventsDropped.Add(1)
		return
	case w.registry.CountByTenant(tenantID) >= w.cfg.MaxSubscriptionsPerTenant:
		respond(ev, 403, "Forbidden")
		ev.Handle.Release()
		w.eventsDropped.Add(1)
		return
	case len(w.dialogs) >= w.cfg.MaxDialogsPerWorker:
		respond(ev, 503, "Service Unavailable")
		ev.Handle.Release()
		w.eventsDropped.Add(1)
		return
	}

	now := time.Now()
	rec := model.SubscriptionRecord{
		DialogID:     ev.DialogID,
		TenantID:     tenantID,
		Type:         subType,
		Lifecycle:    model.LifecyclePending,
		CreatedAt:    now,
		LastActivity: now,
		CallID:       ev.CallID,
		FromURI:      ev.FromURI,
		FromTag:      ev.FromTag,
		ToURI:        ev.ToURI,
		ToTag:        ev.ToTag,
		ContactURI:   ev.ContactURI,
	}
	w.mu.Lock()
	w.dialogs[ev.DialogID] = &dialogContext{record: rec, handle: ev.Handle}
	w.mu.Unlock()
	w.registry.Register(registry.Entry{DialogID: rec.DialogID, TenantID: tenantID, Type: subType, Lifecycle: model.LifecyclePending, LastActivity: now, WorkerIndex: w.id})

	w.queues[ev.DialogID] = append(w.queues[ev.DialogID], ev)
}

// processRoundRobin applies at most one event per dialog with a
// non-empty queue, giving fairness regardless of per-dialog intensity.
func (w *Worker) processRoundRobin() {
	for dialogID, queue := range w.queues {
		if len(queue) == 0 {
			continue
		}
		ev := queue[0]
		w.queues[dialogID] = queue[1:]
		w.applyEvent(dialogID, ev)
		w.cleanupIfDone(dialogID)
	}
}

// processUntilEmpty drains every dialog's queue fully, used on shutdown
// so the worker finishes in-flight work before releasing handles.
func (w *Worker) processUntilEmpty() {
	for {
		progressed := false
		for dialogID, queue := range w.queues {
			if len(queue) == 0 {
				continue
			}
			ev := queue[0]
			w.queues[dialogID] = queue[1:]
			w.applyEvent(dialogID, ev)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

func (w *Worker) cleanupIfDone(dialogID string) {
	w.mu.Lock()
	dc, ok := w.dialogs[dialogID]
	done := ok && dc.record.IsTerminal() && len(w.queues[dialogID]) == 0
	if done {
		delete(w.dialogs, dialogID)
		delete(w.queues, dialogID)
	}
	w.mu.Unlock()
}

func (w *Worker) drainForceTerminations() {
	w.forceMu.Lock()
	ids := w.forceIDs
	w.forceIDs = nil
	w.forceMu.Unlock()

	for _, dialogID := range ids {
		w.mu.Lock()
		dc, ok := w.dialogs[dialogID]
		w.mu.Unlock()
		if !ok {
			continue
		}
		w.terminate(dc, "forced")
		w.cleanupIfDone(dialogID)
	}
}

func (w *Worker) applyEvent(dialogID string, ev *model.Event) {
	w.mu.Lock()
	dc, ok := w.dialogs[dialogID]
	w.mu.Unlock()
	if !ok {
		return
	}

	dc.record.LastActivity = time.Now()
	dc.record.IsProcessing = true
	dc.record.ProcessingStartedAt = time.Now()

	switch ev.Kind {
	case model.EventSubscribe:
		w.handleSubscribe(dc, ev)
	case model.EventNotify:
		w.handleNotify(dc, ev)
	case model.EventNotifyResponse:
		w.handleNotifyResponse(dc, ev)
	case model.EventPresenceTrigger:
		w.handlePresenceTrigger(dc, ev)
	}

	dc.record.IsProcessing = false
	dc.record.EventsProcessed++
	w.eventsProcessed.Add(1)

	if dc.record.Dirty {
		w.store.Enqueue(dc.record)
		dc.record.Dirty = false
	}
}

func (w *Worker) handleSubscribe(dc *dialogContext, ev *model.Event) {
	if ev.Expires == 0 || strings.EqualFold(ev.SubState, "terminated") {
		w.terminate(dc, "unsubscribe")
		respond(ev, 200, "OK")
		return
	}

	wasPending := dc.record.Lifecycle == model.LifecyclePending
	dc.record.ExpiresAt = time.Now().Add(time.Duration(ev.Expires) * time.Second)

	if wasPending {
		dc.record.Lifecycle = model.LifecycleActive
		if dc.record.Type == model.SubscriptionBLF {
			res := blf.ProcessSubscribe(ev, &dc.record)
			w.index.Add(dc.record.BLFMonitoredURI, dc.record.DialogID, dc.record.TenantID)
			respond(ev, res.ResponseStatus, res.ResponsePhrase)
			if res.Notify.ShouldNotify {
				sendNotify(dc.handle, "dialog", res.Notify.ContentType, res.Notify.Body, res.Notify.SubscriptionStateHeader)
			}
		} else {
			res := mwi.ProcessSubscribe(ev, &dc.record)
			respond(ev, res.ResponseStatus, res.ResponsePhrase)
			if res.Notify.ShouldNotify {
				sendNotify(dc.handle, "message-summary", res.Notify.ContentType, res.Notify.Body, res.Notify.SubscriptionStateHeader)
			}
		}
		w.registry.Register(registry.Entry{DialogID: dc.record.DialogID, TenantID: dc.record.TenantID, Type: dc.record.Type, Lifecycle: dc.record.Lifecycle, LastActivity: dc.record.LastActivity, WorkerIndex: w.id})
		dc.record.Dirty = true
		w.store.SaveImmediately(context.Background(), dc.record)
		return
	}

	// refresh
	respond(ev, 200, "OK")
	dc.record.Dirty = true
}

func (w *Worker) handleNotify(dc *dialogContext, ev *model.Event) {
	if dc.record.Type == model.SubscriptionBLF {
		res := blf.ProcessNotify(ev, &dc.record)
		respond(ev, res.ResponseStatus, res.ResponsePhrase)
		return
	}
	res := mwi.ProcessNotify(ev, &dc.record)
	respond(ev, res.ResponseStatus, res.ResponsePhrase)
	if res.Notify.ShouldNotify {
		sendNotify(dc.handle, "message-summary", res.Notify.ContentType, res.Notify.Body, res.Notify.SubscriptionStateHeader)
		dc.record.Dirty = true
	}
}

func (w *Worker) handleNotifyResponse(dc *dialogContext, ev *model.Event) {
	if ev.ResponseStatus >= 200 && ev.ResponseStatus < 300 {
		return
	}
	w.errors.Add(1)
	w.terminate(dc, "notify-rejected")
}

func (w *Worker) handlePresenceTrigger(dc *dialogContext, ev *model.Event) {
	if dc.record.Lifecycle != model.LifecycleActive || dc.record.Type != model.SubscriptionBLF {
		return
	}
	if ev.PresenceEvent == nil {
		return
	}
	action := blf.ProcessPresenceTrigger(ev.PresenceEvent, dc.record.BLFMonitoredURI, &dc.record)
	if action.ShouldNotify {
		sendNotify(dc.handle, "dialog", action.ContentType, action.Body, action.SubscriptionStateHeader)
		dc.record.Dirty = true
	}
}

// terminate moves dc to Terminated, deindexes, sends a final NOTIFY if the
// handle is still valid, persists immediately, and queues a store delete.
func (w *Worker) terminate(dc *dialogContext, reason string) {
	if dc.record.Lifecycle == model.LifecycleTerminated {
		return
	}
	dc.record.Lifecycle = model.LifecycleTerminated
	w.index.RemoveDialog(dc.record.DialogID)
	w.registry.Unregister(dc.record.DialogID)

	if dc.handle != nil && dc.handle.Valid() {
		if dc.record.Type == model.SubscriptionBLF {
			body, err := blf.BuildDialogInfo(dc.record.NotifyVersion+1, dc.record.BLFMonitoredURI, "", "", model.CallStateTerminated, "", "", "")
			if err == nil {
				sendNotify(dc.handle, "dialog", "application/dialog-info+xml", body, "terminated")
			}
		} else {
			body := mwi.BuildSummary(mwi.Summary{MessagesWaiting: false, Account: dc.record.MWIAccountURI})
			sendNotify(dc.handle, "message-summary", "application/simple-message-summary", body, "terminated")
		}
		dc.handle.Release()
		dc.handle = nil
	}

	w.store.SaveImmediately(context.Background(), dc.record)
	w.store.QueueDelete(dc.record.DialogID)
	slog.Debug("[Worker] dialog terminated", "worker", w.id, "dialog_id", dc.record.DialogID, "reason", reason)
}

func (w *Worker) releaseAllHandles() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dc := range w.dialogs {
		if dc.handle != nil {
			dc.handle.Release()
			dc.handle = nil
		}
	}
}

func (w *Worker) dialogCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dialogs)
}

// Stats returns this worker's own counters, for the admin per-worker
// breakdown endpoint.
func (w *Worker) Stats() Stats {
	return Stats{
		EventsProcessed:  w.eventsProcessed.Load(),
		EventsDropped:    w.eventsDropped.Load(),
		CapacityExceeded: w.capacityExceeded.Load(),
		Errors:           w.errors.Load(),
		DialogCount:      w.dialogCount(),
	}
}

// StaleInfo is a read-only snapshot of one stale dialog, for the reaper.
type StaleInfo struct {
	DialogID string
	Stuck    bool
}

// GetStaleSubscriptions returns every non-Terminated dialog whose
// last_activity exceeds its type's TTL, is past expires_at, or has been
// processing longer than stuckTimeout. Dialogs already queued through
// ForceTerminate are left out, so a dialog is reported at most once.
func (w *Worker) GetStaleSubscriptions(blfTTL, mwiTTL, stuckTimeout time.Duration) []StaleInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.forceMu.Lock()
	pendingForce := make(map[string]bool, len(w.forceIDs))
	for _, id := range w.forceIDs {
		pendingForce[id] = true
	}
	w.forceMu.Unlock()

	now := time.Now()
	var stale []StaleInfo
	for id, dc := range w.dialogs {
		if dc.record.Lifecycle == model.LifecycleTerminated || pendingForce[id] {
			continue
		}
		ttl := mwiTTL
		if dc.record.Type == model.SubscriptionBLF {
			ttl = blfTTL
		}

		stuck := dc.record.IsProcessing && now.Sub(dc.record.ProcessingStartedAt) > stuckTimeout
		expired := !dc.record.ExpiresAt.IsZero() && now.After(dc.record.ExpiresAt)
		idle := ttl > 0 && now.Sub(dc.record.LastActivity) > ttl

		if stuck || expired || idle {
			stale = append(stale, StaleInfo{DialogID: id, Stuck: stuck})
		}
	}
	return stale
}

func respond(ev *model.Event, status int, phrase string) {
	if ev.Handle == nil {
		return
	}
	expires := 0
	if status >= 200 && status < 300 {
		expires = ev.Expires
	}
	_ = ev.Handle.Respond(status, phrase, expires)
}

func sendNotify(h *model.Handle, eventType, contentType, body, subState string) {
	if h == nil {
		return
	}
	_ = h.SendNotify(eventType, contentType, body, subState)
}

func deriveTenant(uris ...string) string {
	for _, u := range uris {
		if host := hostPart(u); host != "" {
			return host
		}
	}
	return ""
}

func hostPart(uri string) string {
	at := strings.LastIndexByte(uri, '@')
	if at < 0 {
		return ""
	}
	host := uri[at+1:]
	if semi := strings.IndexByte(host, ';'); semi >= 0 {
		host = host[:semi]
	}
	return strings.ToLower(strings.TrimSuffix(host, ">"))
}

func subscriptionTypeFromPackage(pkg string) model.SubscriptionType {
	switch pkg {
	case "dialog":
		return model.SubscriptionBLF
	case "message-summary":
		return model.SubscriptionMWI
	default:
		return model.SubscriptionUnknown
	}
}
