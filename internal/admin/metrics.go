package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sip_event_processor_events_processed_total",
		Help: "Total events applied by dialog workers.",
	})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sip_event_processor_events_dropped_total",
		Help: "Total events dropped at admission (unknown package, quota, worker full).",
	})

	activeDialogsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sip_event_processor_active_dialogs",
		Help: "Current number of tracked dialogs across all workers.",
	})

	presenceDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sip_event_processor_presence_router_dropped_total",
		Help: "Total presence-trigger events dropped because the router queue was full.",
	})

	presenceUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sip_event_processor_presence_router_unmatched_total",
		Help: "Total presence-trigger events with no matching BLF watcher.",
	})

	storeBatchSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sip_event_processor_store_pending_writes",
		Help: "Current number of writes queued for batched write-behind.",
	})

	reaperExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sip_event_processor_reaper_expired_total",
		Help: "Total dialogs reaped for TTL expiry.",
	})

	reaperStuckTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sip_event_processor_reaper_stuck_total",
		Help: "Total dialogs reaped for exceeding the stuck-processing timeout.",
	})
)

// statsCache mirrors the last-seen values of several monotonic snapshot
// counters (dispatch.Stats, reaper, presence router), so each poll can Add
// only the delta into the corresponding prometheus counter.
type statsCache struct {
	lastProcessed         int64
	lastDropped           int64
	lastExpired           int64
	lastStuck             int64
	lastPresenceDropped   int64
	lastPresenceUnmatched int64
}

func (c *statsCache) observe(processed, dropped int64, dialogCount int) {
	if d := processed - c.lastProcessed; d > 0 {
		eventsProcessedTotal.Add(float64(d))
	}
	if d := dropped - c.lastDropped; d > 0 {
		eventsDroppedTotal.Add(float64(d))
	}
	c.lastProcessed = processed
	c.lastDropped = dropped
	activeDialogsGauge.Set(float64(dialogCount))
}

func (c *statsCache) observeReaper(expired, stuck int64) {
	if d := expired - c.lastExpired; d > 0 {
		reaperExpiredTotal.Add(float64(d))
	}
	if d := stuck - c.lastStuck; d > 0 {
		reaperStuckTotal.Add(float64(d))
	}
	c.lastExpired = expired
	c.lastStuck = stuck
}

func (c *statsCache) observePresence(dropped, unmatched int64) {
	if d := dropped - c.lastPresenceDropped; d > 0 {
		presenceDroppedTotal.Add(float64(d))
	}
	if d := unmatched - c.lastPresenceUnmatched; d > 0 {
		presenceUnmatchedTotal.Add(float64(d))
	}
	c.lastPresenceDropped = dropped
	c.lastPresenceUnmatched = unmatched
}
