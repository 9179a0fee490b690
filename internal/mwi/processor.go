package mwi

import "github.com/Badareenadh/sip-event-processor/internal/model"

const summaryContentType = "application/simple-message-summary"

// Result mirrors blf.Result: the SIP response to send plus an optional
// NOTIFY to emit as a side effect of processing.
type Result struct {
	ResponseStatus int
	ResponsePhrase string
	Notify         NotifyAction
}

// NotifyAction is the outcome of evaluating an MWI update against the
// current subscription record.
type NotifyAction struct {
	ShouldNotify            bool
	Body                    string
	ContentType             string
	SubscriptionStateHeader string
}

// ProcessSubscribe handles an initial or refresh SUBSCRIBE for an MWI
// dialog, replaying the last known summary (or an empty one on first
// subscribe).
func ProcessSubscribe(ev *model.Event, rec *model.SubscriptionRecord) Result {
	if ev.ToURI != "" {
		rec.MWIAccountURI = ev.ToURI
	}

	body := rec.MWILastNotifyBody
	if body == "" {
		body = BuildSummary(Summary{MessagesWaiting: false, Account: rec.MWIAccountURI})
		rec.MWILastNotifyBody = body
	}

	return Result{
		ResponseStatus: 200,
		ResponsePhrase: "OK",
		Notify: NotifyAction{
			ShouldNotify:            true,
			Body:                    body,
			ContentType:             summaryContentType,
			SubscriptionStateHeader: "active",
		},
	}
}

// ProcessNotify handles an incoming NOTIFY carrying a simple-message-summary
// body (e.g. from a voicemail system publishing PUBLISH/NOTIFY directly to
// this processor). The record becomes dirty, and a NOTIFY is re-emitted to
// watchers, only when the new/old counters actually changed.
func ProcessNotify(ev *model.Event, rec *model.SubscriptionRecord) Result {
	summary := ParseSummary(ev.Body)
	if summary.Account != "" {
		rec.MWIAccountURI = summary.Account
	}

	changed := summary.New != rec.MWINewMessages || summary.Old != rec.MWIOldMessages
	rec.MWINewMessages = summary.New
	rec.MWIOldMessages = summary.Old
	rec.Dirty = rec.Dirty || changed

	if !changed {
		return Result{ResponseStatus: 200, ResponsePhrase: "OK"}
	}

	body := BuildSummary(summary)
	rec.MWILastNotifyBody = body

	return Result{
		ResponseStatus: 200,
		ResponsePhrase: "OK",
		Notify: NotifyAction{
			ShouldNotify:            true,
			Body:                    body,
			ContentType:             summaryContentType,
			SubscriptionStateHeader: "active",
		},
	}
}
