package presence

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/model"
)

// ConnState is the client's connection state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Disconnected"
	}
}

const dialTimeout = 10 * time.Second

// EventCallback is invoked for every parsed call-state event.
type EventCallback func(model.CallStateEvent)

// StateCallback is invoked on every connection state transition.
type StateCallback func(ConnState)

// Client owns a single presence-feed connection at a time and reconnects
// through the configured FailoverManager on any read or dial failure.
type Client struct {
	cfg      config.PresenceConfig
	failover *FailoverManager
	onEvent  EventCallback
	onState  StateCallback

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	state ConnState
}

// NewClient builds a presence client against the given failover manager.
func NewClient(cfg config.PresenceConfig, failover *FailoverManager, onEvent EventCallback, onState StateCallback) *Client {
	return &Client{
		cfg:      cfg,
		failover: failover,
		onEvent:  onEvent,
		onState:  onState,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the reader goroutine. Call Stop to shut it down.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop signals the reader goroutine to exit and waits for it to finish.
// Idempotent.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) run() {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectInterval
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		ep, ok := c.failover.GetNextServer()
		if !ok {
			if c.sleepBackoff(backoff) {
				return
			}
			continue
		}

		c.setState(StateConnecting)
		conn, err := net.DialTimeout("tcp", ep.String(), dialTimeout)
		if err != nil {
			slog.Warn("[Presence] dial failed", "server", ep.String(), "err", err)
			c.failover.ReportFailure(ep)
			c.setState(StateReconnecting)
			if c.sleepBackoff(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.ReconnectMaxInterval)
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetNoDelay(true)
		}

		c.failover.ReportSuccess(ep)
		backoff = c.cfg.ReconnectInterval
		c.setState(StateConnected)

		c.readLoop(conn, ep)

		conn.Close()
		c.setState(StateReconnecting)

		select {
		case <-c.stopCh:
			return
		default:
		}
		if c.sleepBackoff(backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.cfg.ReconnectMaxInterval)
	}
}

// readLoop blocks reading from conn until a read error, a heartbeat
// timeout, or the stop channel closes. Returns when the connection should
// be torn down; the caller handles failover reporting and backoff.
func (c *Client) readLoop(conn net.Conn, ep Endpoint) {
	framer := NewFramer()
	lastHeartbeat := time.Now()
	readTimeout := c.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	heartbeatBudget := c.cfg.HeartbeatInterval * time.Duration(max1(c.cfg.HeartbeatMissThresh))

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if heartbeatBudget > 0 && time.Since(lastHeartbeat) > heartbeatBudget {
					slog.Warn("[Presence] heartbeat timeout, closing connection", "server", ep.String())
					c.failover.ReportFailure(ep)
					return
				}
				continue
			}
			slog.Warn("[Presence] read error", "server", ep.String(), "err", err)
			c.failover.ReportFailure(ep)
			return
		}

		frames, ferr := framer.Feed(buf[:n])
		if ferr != nil {
			slog.Warn("[Presence] framer buffer overflow, resetting", "server", ep.String())
			framer.Reset()
		}
		if len(frames) > 0 {
			lastHeartbeat = time.Now()
		}
		for _, f := range frames {
			if f.IsHeartbeat {
				continue
			}
			if c.onEvent != nil {
				c.onEvent(f.Event)
			}
		}
	}
}

// sleepBackoff waits up to d, returning true if it woke because Stop was
// called.
func (c *Client) sleepBackoff(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.stopCh:
		return true
	case <-t.C:
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
