// Package app wires every component of the SIP event processor together
// and owns process-wide startup/shutdown ordering, in the teacher's
// NewServer/Start/Close style.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Badareenadh/sip-event-processor/internal/admin"
	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/dispatch"
	"github.com/Badareenadh/sip-event-processor/internal/presence"
	"github.com/Badareenadh/sip-event-processor/internal/reaper"
	"github.com/Badareenadh/sip-event-processor/internal/registry"
	"github.com/Badareenadh/sip-event-processor/internal/sipgateway"
	"github.com/Badareenadh/sip-event-processor/internal/store"
	"github.com/Badareenadh/sip-event-processor/internal/watcherindex"
)

// Processor owns every long-lived component and the shutdown order
// between them.
type Processor struct {
	cfg *config.Config

	backend store.Backend
	store   *store.SubscriptionStore

	registry   *registry.Registry
	index      *watcherindex.Index
	dispatcher *dispatch.Dispatcher

	failover *presence.FailoverManager
	client   *presence.Client
	router   *presence.Router

	gateway *sipgateway.Gateway
	rp      *reaper.Reaper
	admin   *admin.Server

	gatewayRunning bool
}

// NewProcessor builds every component in dependency order but does not
// start any goroutines or listeners; call Start for that.
func NewProcessor(cfg *config.Config) (*Processor, error) {
	backend := store.NewMemoryBackend()
	st := store.NewSubscriptionStore(backend, cfg.Persist, cfg.ServiceID)

	reg := registry.New()
	idx := watcherindex.New()
	d := dispatch.New(cfg, reg, idx, st)

	fm := presence.NewFailoverManager(cfg.Presence)

	p := &Processor{
		cfg:        cfg,
		backend:    backend,
		store:      st,
		registry:   reg,
		index:      idx,
		dispatcher: d,
		failover:   fm,
	}

	router := presence.NewRouter(idx, d, cfg.Presence.MaxPendingEvents)
	p.router = router

	client := presence.NewClient(cfg.Presence, fm, router.Submit, func(state presence.ConnState) {
		slog.Info("[App] presence connection state changed", "state", state.String())
	})
	p.client = client

	gw, err := sipgateway.New(&cfg.SIP, d)
	if err != nil {
		return nil, fmt.Errorf("build SIP gateway: %w", err)
	}
	p.gateway = gw

	rp := reaper.New(d, st, cfg.ReaperScanInterval, cfg.BLFSubscriptionTTL, cfg.MWISubscriptionTTL, cfg.StuckProcessingTimeout)
	p.rp = rp

	adminAddr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	probes := admin.HealthProbes{
		GatewayRunning:       func() bool { return p.gatewayRunning },
		PersistenceConnected: func() bool { return true },
		PersistenceEnabled:   cfg.Persist.Enable,
	}
	p.admin = admin.New(adminAddr, cfg, d, reg, fm, router, rp, st, probes)

	return p, nil
}

// Start recovers persisted subscriptions, then brings every component up
// in dependency order: store -> dispatcher (with pre-start recovery
// loaded) -> presence router -> presence client -> SIP gateway -> reaper
// -> admin HTTP.
func (p *Processor) Start(ctx context.Context) error {
	p.store.Start()

	if err := p.recoverSubscriptions(ctx); err != nil {
		slog.Warn("[App] subscription recovery incomplete", "error", err)
	}

	p.dispatcher.Start()
	p.router.Start()
	p.client.Start()

	go func() {
		if err := p.gateway.ListenAndServe(ctx); err != nil {
			slog.Error("[App] SIP gateway stopped", "error", err)
			p.gatewayRunning = false
		}
	}()
	p.gatewayRunning = true

	p.rp.Start()

	if err := p.admin.Start(); err != nil {
		return fmt.Errorf("start admin server: %w", err)
	}

	slog.Info("[App] processor started",
		"num_workers", p.cfg.NumWorkers,
		"sip_port", p.cfg.SIP.Port,
		"http_port", p.cfg.HTTPPort,
	)
	return nil
}

// recoverSubscriptions loads every active subscription from the backend
// and hands each to its owning worker's lock-free pre-start recovery path,
// keyed by the dispatcher's own hash so recovery lands on the same worker
// that will later own live traffic for that dialog.
func (p *Processor) recoverSubscriptions(ctx context.Context) error {
	records, err := p.store.LoadActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("load active subscriptions: %w", err)
	}

	for _, rec := range records {
		_, w := p.dispatcher.WorkerFor(rec.DialogID)
		w.LoadRecoveredSubscription(rec)
	}

	slog.Info("[App] recovered subscriptions", "count", len(records))
	return nil
}

// Stop tears every component down in the spec's exact reverse-dependency
// order: HTTP -> reaper -> presence client -> presence router -> SIP
// gateway -> dispatcher -> store -> persistence backend.
func (p *Processor) Stop() {
	if err := p.admin.Stop(); err != nil {
		slog.Warn("[App] admin server stop error", "error", err)
	}
	p.rp.Stop()
	p.client.Stop()
	p.router.Stop()
	if err := p.gateway.Close(); err != nil {
		slog.Warn("[App] SIP gateway close error", "error", err)
	}
	p.dispatcher.Stop()
	p.store.Stop()
	slog.Info("[App] processor stopped")
}
