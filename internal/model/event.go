package model

import "time"

// CallState is the presence feed's call-state enum, also used for the
// dialog-info <state> mapping in the BLF processor.
type CallState int

const (
	CallStateUnknown CallState = iota
	CallStateTrying
	CallStateRinging
	CallStateConfirmed
	CallStateTerminated
	CallStateHeld
	CallStateResumed
)

func (s CallState) String() string {
	switch s {
	case CallStateTrying:
		return "Trying"
	case CallStateRinging:
		return "Ringing"
	case CallStateConfirmed:
		return "Confirmed"
	case CallStateTerminated:
		return "Terminated"
	case CallStateHeld:
		return "Held"
	case CallStateResumed:
		return "Resumed"
	default:
		return "Unknown"
	}
}

// ParseCallState maps a presence-feed <State> text value to the enum per
// the table in the BLF component design.
func ParseCallState(raw string) CallState {
	switch normalizeToken(raw) {
	case "trying", "setup":
		return CallStateTrying
	case "ringing", "early", "alerting":
		return CallStateRinging
	case "confirmed", "connected", "active":
		return CallStateConfirmed
	case "terminated", "disconnected", "released", "idle":
		return CallStateTerminated
	case "held", "hold":
		return CallStateHeld
	case "resumed":
		return CallStateResumed
	default:
		return CallStateUnknown
	}
}

func normalizeToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// CallStateEvent is the transient event built by the XML framer from a
// presence-feed <CallStateEvent> frame, consumed by the router and
// discarded after dispatch.
type CallStateEvent struct {
	PresenceCallID string
	CallerURI      string
	CalleeURI      string
	State          CallState
	Direction      string
	TenantID       string
	Timestamp      string
}

// EventKind distinguishes the origin/purpose of an Event routed through the
// dispatcher to a worker.
type EventKind int

const (
	EventSubscribe EventKind = iota
	EventNotify
	EventPublish
	EventNotifyResponse
	EventPresenceTrigger
)

// Event is the dispatcher's routing unit: either a SIP-originated event
// from the gateway, or a presence-trigger event synthesized by the router.
type Event struct {
	Kind     EventKind
	DialogID string

	EnqueuedAt time.Time

	// SIP fields, populated for EventSubscribe/EventNotify/EventPublish/EventNotifyResponse.
	EventPackage    string // "dialog" or "message-summary"
	CSeq            int
	Expires         int
	ContentType     string
	Body            string
	SubState        string
	ResponseStatus  int
	CallID          string
	FromURI         string
	FromTag         string
	ToURI           string
	ToTag           string
	ContactURI      string
	Handle          *Handle

	// PresenceEvent carries the presence call-state event when
	// Kind == EventPresenceTrigger; the owning worker builds the NOTIFY
	// body from it.
	PresenceEvent *CallStateEvent
}
