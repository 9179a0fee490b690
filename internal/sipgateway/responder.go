package sipgateway

import (
	"context"
	"strconv"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// transactionResponder implements model.Responder over a live SIP server
// transaction. Respond answers within the original transaction; SendNotify
// builds and sends a standalone out-of-dialog NOTIFY reusing the original
// request's dialog identifiers.
type transactionResponder struct {
	req    *sip.Request
	tx     sip.ServerTransaction
	client *sipgo.Client
}

func (r *transactionResponder) Respond(status int, phrase string, expires int) error {
	res := sip.NewResponseFromRequest(r.req, sip.StatusCode(status), phrase, nil)
	if expires > 0 {
		res.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))
	}
	return r.tx.Respond(res)
}

func (r *transactionResponder) SendNotify(eventType, contentType, body, subState string) error {
	if r.client == nil {
		return nil
	}
	recipient := r.req.From().Address

	notify := sip.NewRequest(sip.NOTIFY, recipient)
	if to := r.req.To(); to != nil {
		fromHdr := &sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()}
		notify.AppendHeader(fromHdr)
	}
	if from := r.req.From(); from != nil {
		toHdr := &sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()}
		notify.AppendHeader(toHdr)
	}
	if callIDHdr := r.req.CallID(); callIDHdr != nil {
		notify.AppendHeader(callIDHdr)
	}
	notify.AppendHeader(sip.NewHeader("Event", eventType))
	notify.AppendHeader(sip.NewHeader("Subscription-State", subState))
	notify.AppendHeader(sip.NewHeader("Content-Type", contentType))
	maxFwd := sip.MaxForwardsHeader(70)
	notify.AppendHeader(&maxFwd)
	notify.SetBody([]byte(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := r.client.TransactionRequest(ctx, notify)
	if err != nil {
		return err
	}
	defer tx.Terminate()
	return nil
}
