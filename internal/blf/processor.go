// Package blf implements the pure state-transition and NOTIFY-body logic
// for BLF (dialog-info+xml) subscriptions. It never touches a socket or a
// channel; callers (the worker) own all I/O and concurrency.
package blf

import (
	"log/slog"

	"github.com/Badareenadh/sip-event-processor/internal/model"
)

// NotifyAction is the outcome of evaluating a presence trigger against a
// BLF subscription record.
type NotifyAction struct {
	ShouldNotify             bool
	Body                     string
	ContentType              string
	SubscriptionStateHeader string
}

const dialogInfoContentType = "application/dialog-info+xml"

// Result is the outcome of applying a SIP-originated event to a BLF record.
// Notify is populated only when ShouldNotify is true.
type Result struct {
	ResponseStatus int
	ResponsePhrase string
	Notify         NotifyAction
}

// ProcessSubscribe handles an initial or refresh SUBSCRIBE for a BLF
// dialog. It does not touch the watcher index; that is the worker's job
// once this returns a 2xx.
func ProcessSubscribe(ev *model.Event, rec *model.SubscriptionRecord) Result {
	monitored := ev.ToURI
	if monitored == "" {
		monitored = rec.BLFMonitoredURI
	}
	rec.BLFMonitoredURI = monitored

	if rec.NeedsFullStateNotify && rec.BLFLastNotifyBody != "" {
		rec.NeedsFullStateNotify = false
		return Result{
			ResponseStatus: 200,
			ResponsePhrase: "OK",
			Notify: NotifyAction{
				ShouldNotify:            true,
				Body:                    rec.BLFLastNotifyBody,
				ContentType:             dialogInfoContentType,
				SubscriptionStateHeader: "active",
			},
		}
	}

	// The initial full-state NOTIFY is version 0; subsequent presence
	// triggers and the final terminate NOTIFY each bump from there, so
	// the first observed state change lands on version 1.
	body, err := BuildDialogInfo(rec.NotifyVersion, monitored, rec.BLFPresenceCallID, rec.BLFLastDirection,
		model.ParseCallState(rec.BLFLastState), "", "", rec.BLFPresenceCallID)
	if err != nil {
		slog.Error("[BLF] build initial dialog-info failed", "dialog_id", rec.DialogID, "err", err)
		return Result{ResponseStatus: 200, ResponsePhrase: "OK"}
	}
	rec.BLFLastNotifyBody = body

	return Result{
		ResponseStatus: 200,
		ResponsePhrase: "OK",
		Notify: NotifyAction{
			ShouldNotify:            true,
			Body:                    body,
			ContentType:             dialogInfoContentType,
			SubscriptionStateHeader: "active",
		},
	}
}

// ProcessNotify handles an incoming NOTIFY when the SIP peer is itself the
// publisher of dialog-info+xml (rather than the internal presence feed).
// It updates blf_last_state/monitored URI and always accepts with 200.
func ProcessNotify(ev *model.Event, rec *model.SubscriptionRecord) Result {
	parsed := ParseDialogInfo(ev.Body)
	if parsed.Entity != "" {
		rec.BLFMonitoredURI = parsed.Entity
	}
	if parsed.State != "" {
		rec.BLFLastState = parsed.State
	}
	return Result{ResponseStatus: 200, ResponsePhrase: "OK"}
}

// ProcessPresenceTrigger evaluates a presence-feed call-state event against
// the watcher's current record and decides whether a NOTIFY must be sent.
// Two consecutive triggers with identical (state, presence_call_id) are
// suppressed (invariant 6 in the testable-properties list).
func ProcessPresenceTrigger(trigger *model.CallStateEvent, monitoredURI string, rec *model.SubscriptionRecord) NotifyAction {
	stateStr := trigger.State.String()
	if rec.BLFLastState == stateStr && rec.BLFPresenceCallID == trigger.PresenceCallID {
		return NotifyAction{}
	}

	rec.BLFLastState = stateStr
	rec.BLFPresenceCallID = trigger.PresenceCallID
	rec.BLFLastDirection = trigger.Direction
	rec.NotifyVersion++

	body, err := BuildDialogInfo(rec.NotifyVersion, monitoredURI, trigger.PresenceCallID, trigger.Direction,
		trigger.State, trigger.CallerURI, trigger.CalleeURI, trigger.PresenceCallID)
	if err != nil {
		slog.Error("[BLF] build dialog-info failed", "dialog_id", rec.DialogID, "err", err)
		return NotifyAction{}
	}
	rec.BLFLastNotifyBody = body

	substate := "active"
	if trigger.State == model.CallStateTerminated {
		substate = "active" // dialog-info BLF subscriptions stay active across calls
	}

	return NotifyAction{
		ShouldNotify:            true,
		Body:                    body,
		ContentType:             dialogInfoContentType,
		SubscriptionStateHeader: substate,
	}
}
