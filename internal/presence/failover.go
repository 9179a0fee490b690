// Package presence implements the presence feed's XML framing, the
// multi-server failover manager, the TCP reader client, and the router
// that fans call-state events out to BLF watchers.
package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/config"
)

// Endpoint identifies one configured presence server.
type Endpoint struct {
	Host     string
	Port     int
	Priority int
	Weight   int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) key() string {
	return e.String()
}

// ServerHealth tracks one endpoint's health bookkeeping, mirroring the
// teacher's connection-pool pattern of one coordinating mutex guarding a
// per-member health record.
type ServerHealth struct {
	Endpoint            Endpoint
	IsHealthy           bool
	ConsecutiveFailures int
	TotalFailures       int64
	TotalSuccesses      int64
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastFailure         time.Time
	CooldownUntil       time.Time
}

// Strategy selects which endpoint to try next.
type Strategy int

const (
	StrategyRoundRobin Strategy = iota
	StrategyPriority
	StrategyRandom
)

// ParseStrategy maps a config string to a Strategy, defaulting to round robin.
func ParseStrategy(s string) Strategy {
	switch s {
	case "priority":
		return StrategyPriority
	case "random":
		return StrategyRandom
	default:
		return StrategyRoundRobin
	}
}

// FailoverManager tracks health for a fixed pool of presence servers and
// selects the next endpoint to try per the configured strategy.
type FailoverManager struct {
	mu       sync.Mutex
	strategy Strategy
	cooldown time.Duration
	order    []string // insertion order of keys, for round-robin cursor and tie-breaking
	health   map[string]*ServerHealth
	cursor   int
}

// NewFailoverManager builds a manager from configured servers.
func NewFailoverManager(cfg config.PresenceConfig) *FailoverManager {
	fm := &FailoverManager{
		strategy: ParseStrategy(cfg.FailoverStrategy),
		cooldown: cfg.ServerCooldown,
		health:   make(map[string]*ServerHealth),
	}
	for _, s := range cfg.Servers {
		ep := Endpoint{Host: s.Host, Port: s.Port, Priority: s.Priority, Weight: s.Weight}
		fm.order = append(fm.order, ep.key())
		fm.health[ep.key()] = &ServerHealth{Endpoint: ep, IsHealthy: true}
	}
	return fm
}

// GetNextServer returns the best endpoint to try. If the pool is empty it
// returns the zero Endpoint and false. If every server is in cooldown it
// still returns the one whose cooldown expires soonest (never starve,
// invariant 7).
func (fm *FailoverManager) GetNextServer() (Endpoint, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if len(fm.order) == 0 {
		return Endpoint{}, false
	}

	now := time.Now()

	switch fm.strategy {
	case StrategyPriority:
		return fm.pickPriorityLocked(now), true
	case StrategyRandom:
		return fm.pickRandomLocked(now), true
	default:
		return fm.pickRoundRobinLocked(now), true
	}
}

func (fm *FailoverManager) pickRoundRobinLocked(now time.Time) Endpoint {
	n := len(fm.order)
	for i := 0; i < n; i++ {
		idx := (fm.cursor + i) % n
		h := fm.health[fm.order[idx]]
		if h.IsHealthy && now.After(h.CooldownUntil) {
			fm.cursor = (idx + 1) % n
			return h.Endpoint
		}
	}
	for i := 0; i < n; i++ {
		idx := (fm.cursor + i) % n
		h := fm.health[fm.order[idx]]
		if now.After(h.CooldownUntil) {
			fm.cursor = (idx + 1) % n
			return h.Endpoint
		}
	}
	return fm.earliestCooldownLocked()
}

func (fm *FailoverManager) pickPriorityLocked(now time.Time) Endpoint {
	var best *ServerHealth
	for _, key := range fm.order {
		h := fm.health[key]
		if !now.After(h.CooldownUntil) {
			continue
		}
		if best == nil || h.Endpoint.Priority < best.Endpoint.Priority {
			best = h
		}
	}
	if best == nil {
		return fm.earliestCooldownLocked()
	}
	return best.Endpoint
}

func (fm *FailoverManager) pickRandomLocked(now time.Time) Endpoint {
	var healthy, available []*ServerHealth
	for _, key := range fm.order {
		h := fm.health[key]
		if !now.After(h.CooldownUntil) {
			continue
		}
		available = append(available, h)
		if h.IsHealthy {
			healthy = append(healthy, h)
		}
	}
	pool := healthy
	if len(pool) == 0 {
		pool = available
	}
	if len(pool) == 0 {
		return fm.earliestCooldownLocked()
	}
	return pool[rand.Intn(len(pool))].Endpoint
}

// earliestCooldownLocked must be called with fm.mu held; fm.order is
// non-empty by construction at every call site.
func (fm *FailoverManager) earliestCooldownLocked() Endpoint {
	var earliest *ServerHealth
	for _, key := range fm.order {
		h := fm.health[key]
		if earliest == nil || h.CooldownUntil.Before(earliest.CooldownUntil) {
			earliest = h
		}
	}
	return earliest.Endpoint
}

// ReportSuccess clears failure/cooldown state and marks the endpoint healthy.
func (fm *FailoverManager) ReportSuccess(ep Endpoint) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	h, ok := fm.health[ep.key()]
	if !ok {
		return
	}
	now := time.Now()
	h.IsHealthy = true
	h.ConsecutiveFailures = 0
	h.CooldownUntil = time.Time{}
	h.LastAttempt = now
	h.LastSuccess = now
	h.TotalSuccesses++
}

// ReportFailure escalates the cooldown and marks the endpoint unhealthy
// once consecutive failures reach 3.
func (fm *FailoverManager) ReportFailure(ep Endpoint) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	h, ok := fm.health[ep.key()]
	if !ok {
		return
	}
	now := time.Now()
	h.ConsecutiveFailures++
	h.TotalFailures++
	h.LastAttempt = now
	h.LastFailure = now

	backoffSteps := h.ConsecutiveFailures
	if backoffSteps > 5 {
		backoffSteps = 5
	}
	h.CooldownUntil = now.Add(fm.cooldown * time.Duration(backoffSteps))

	if h.ConsecutiveFailures >= 3 {
		h.IsHealthy = false
	}
}

// Snapshot returns a copy of every tracked server's health, for the admin
// presence-stats endpoint.
func (fm *FailoverManager) Snapshot() []ServerHealth {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	out := make([]ServerHealth, 0, len(fm.order))
	for _, key := range fm.order {
		out = append(out, *fm.health[key])
	}
	return out
}
