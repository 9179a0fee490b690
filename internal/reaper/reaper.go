// Package reaper runs the periodic scan that force-terminates stale
// dialogs and queues their deletion from the subscription store.
package reaper

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/dispatch"
	"github.com/Badareenadh/sip-event-processor/internal/store"
)

// Reaper periodically scans every worker for stale dialogs.
type Reaper struct {
	dispatcher   *dispatch.Dispatcher
	store        store.Store
	interval     time.Duration
	blfTTL       time.Duration
	mwiTTL       time.Duration
	stuckTimeout time.Duration

	expiredReaped atomic.Int64
	stuckReaped   atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a reaper over d. Every reaped dialog is also queued for
// deletion on st, in addition to the delete its worker queues when it
// terminates the dialog.
func New(d *dispatch.Dispatcher, st store.Store, interval, blfTTL, mwiTTL, stuckTimeout time.Duration) *Reaper {
	return &Reaper{
		dispatcher:   d,
		store:        st,
		interval:     interval,
		blfTTL:       blfTTL,
		mwiTTL:       mwiTTL,
		stuckTimeout: stuckTimeout,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the scan loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop signals the scan loop to exit and waits for it. Idempotent.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Reaper) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.scan()
		}
	}
}

func (r *Reaper) scan() {
	for i := 0; i < r.dispatcher.NumWorkers(); i++ {
		w := r.dispatcher.Worker(i)
		stale := w.GetStaleSubscriptions(r.blfTTL, r.mwiTTL, r.stuckTimeout)
		for _, info := range stale {
			w.ForceTerminate(info.DialogID)
			r.store.QueueDelete(info.DialogID)
			if info.Stuck {
				r.stuckReaped.Add(1)
			} else {
				r.expiredReaped.Add(1)
			}
			slog.Info("[Reaper] reaped stale dialog", "worker", i, "dialog_id", info.DialogID, "stuck", info.Stuck)
		}
	}
}

// ExpiredReaped returns the count of dialogs reaped for TTL/expiry reasons.
func (r *Reaper) ExpiredReaped() int64 { return r.expiredReaped.Load() }

// StuckReaped returns the count of dialogs reaped for exceeding the stuck
// processing timeout.
func (r *Reaper) StuckReaped() int64 { return r.stuckReaped.Load() }
