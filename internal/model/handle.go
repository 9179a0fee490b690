package model

import "sync/atomic"

// Responder is the narrow capability a Handle needs from the transport: the
// ability to send a final response and an out-of-dialog NOTIFY. The sipgo
// gateway implements this; tests can fake it trivially.
type Responder interface {
	Respond(status int, phrase string, expires int) error
	SendNotify(eventType, contentType, body, subState string) error
}

// Handle is a reference-counted, move-only-by-convention wrapper around a
// transport-owned dialog handle. The gateway acquires one reference on
// accepting a request and hands ownership to the owning worker; the worker
// calls Release exactly once, at dialog destruction or force-terminate.
// Release is idempotent so a double call (e.g. from both the normal
// termination path and a racing force-terminate) is harmless.
type Handle struct {
	responder Responder
	refs      atomic.Int32
	released  atomic.Bool
}

// NewHandle wraps a Responder with an initial reference count of one.
func NewHandle(r Responder) *Handle {
	h := &Handle{responder: r}
	h.refs.Store(1)
	return h
}

// Acquire adds a reference, returning the same handle for chaining.
func (h *Handle) Acquire() *Handle {
	if h == nil {
		return nil
	}
	h.refs.Add(1)
	return h
}

// Release drops a reference. Once the handle has no remaining holders it is
// marked released and further transport calls become no-ops; this happens
// exactly once regardless of how many callers call Release.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.refs.Add(-1) <= 0 {
		h.released.Store(true)
	}
}

// Valid reports whether the handle still has an active transport backing it.
func (h *Handle) Valid() bool {
	return h != nil && !h.released.Load()
}

func (h *Handle) Respond(status int, phrase string, expires int) error {
	if !h.Valid() {
		return nil
	}
	return h.responder.Respond(status, phrase, expires)
}

func (h *Handle) SendNotify(eventType, contentType, body, subState string) error {
	if !h.Valid() {
		return nil
	}
	return h.responder.SendNotify(eventType, contentType, body, subState)
}
