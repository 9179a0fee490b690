// Package sipgateway wraps a sipgo UserAgent/Server/Client triple and
// adapts SUBSCRIBE/NOTIFY/PUBLISH requests into dispatcher events.
package sipgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/model"
	"github.com/Badareenadh/sip-event-processor/internal/procerr"
)

// Dispatcher is the subset of dispatch.Dispatcher the gateway depends on.
type Dispatcher interface {
	Dispatch(ev *model.Event) error
}

// Gateway is the sipgo-backed transport adapter.
type Gateway struct {
	cfg        *config.SIPConfig
	ua         *sipgo.UserAgent
	srv        *sipgo.Server
	client     *sipgo.Client
	dispatcher Dispatcher
}

// New constructs the UA/server/client trio the same way the teacher's
// signaling server does, then registers handlers for the event-package
// methods this module cares about.
func New(cfg *config.SIPConfig, d Dispatcher) (*Gateway, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	gw := &Gateway{cfg: cfg, ua: ua, srv: srv, client: client, dispatcher: d}

	srv.OnRequest(sip.SUBSCRIBE, gw.handleSubscribe)
	srv.OnRequest(sip.NOTIFY, gw.handleNotify)
	srv.OnRequest(sip.PUBLISH, gw.handlePublish)

	slog.Info("[Gateway] SIP handlers registered", "methods", "SUBSCRIBE, NOTIFY, PUBLISH")
	return gw, nil
}

// ListenAndServe blocks serving the SIP transport until ctx is done.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", g.cfg.BindAddr, g.cfg.Port)
	slog.Info("[Gateway] starting SIP server", "listen_addr", listenAddr)
	return g.srv.ListenAndServe(ctx, "udp", listenAddr)
}

// Close releases the user agent and its transport listeners.
func (g *Gateway) Close() error {
	return g.ua.Close()
}

func (g *Gateway) handleSubscribe(req *sip.Request, tx sip.ServerTransaction) {
	g.handle(model.EventSubscribe, req, tx)
}

func (g *Gateway) handleNotify(req *sip.Request, tx sip.ServerTransaction) {
	g.handle(model.EventNotify, req, tx)
}

func (g *Gateway) handlePublish(req *sip.Request, tx sip.ServerTransaction) {
	g.handle(model.EventPublish, req, tx)
}

func (g *Gateway) handle(kind model.EventKind, req *sip.Request, tx sip.ServerTransaction) {
	from := req.From()
	to := req.To()
	if from == nil || to == nil {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing From/To", nil)
		tx.Respond(res)
		return
	}

	fromTag, _ := from.Params.Get("tag")
	toTag, _ := to.Params.Get("tag")
	callID := req.CallID().Value()
	dialogID := buildDialogID(callID, fromTag, toTag)

	responder := &transactionResponder{req: req, tx: tx, client: g.client}
	handle := model.NewHandle(responder)

	ev := &model.Event{
		Kind:         kind,
		DialogID:     dialogID,
		EventPackage: headerValue(req, "Event"),
		CSeq:         cseqNumber(req),
		Expires:      expiresValue(req),
		ContentType:  headerValue(req, "Content-Type"),
		Body:         string(req.Body()),
		SubState:     headerValue(req, "Subscription-State"),
		CallID:       callID,
		FromURI:      from.Address.String(),
		FromTag:      fromTag,
		ToURI:        to.Address.String(),
		ToTag:        toTag,
		ContactURI:   contactURI(req),
		Handle:       handle,
	}

	if err := g.dispatcher.Dispatch(ev); err != nil {
		slog.Warn("[Gateway] dispatch rejected", "dialog_id", dialogID, "error", err)
		status, phrase := statusForDispatchError(err)
		res := sip.NewResponseFromRequest(req, sip.StatusCode(status), phrase, nil)
		tx.Respond(res)
		handle.Release()
	}
}

// buildDialogID produces the stable dialog key: sanitized Call-ID plus
// from-tag/to-tag suffixes. No normalization beyond stripping whitespace —
// the dispatcher's hash step treats it as an exact, case-sensitive string.
func buildDialogID(callID, fromTag, toTag string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, callID)
	return sanitized + ";from-tag=" + fromTag + ";to-tag=" + toTag
}

func headerValue(req *sip.Request, name string) string {
	h := req.GetHeader(name)
	if h == nil {
		return ""
	}
	return h.Value()
}

func cseqNumber(req *sip.Request) int {
	c := req.CSeq()
	if c == nil {
		return 0
	}
	return int(c.SeqNo)
}

func expiresValue(req *sip.Request) int {
	if h := req.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil {
			return n
		}
	}
	return 0
}

func contactURI(req *sip.Request) string {
	h := req.GetHeader("Contact")
	if h == nil {
		return ""
	}
	return h.Value()
}

func statusForDispatchError(err error) (int, string) {
	switch {
	case errors.Is(err, procerr.ErrInvalidArgument):
		return 400, "Bad Request"
	case errors.Is(err, procerr.ErrCapacityExceeded):
		return 503, "Service Unavailable"
	case errors.Is(err, procerr.ErrShuttingDown):
		return 503, "Service Unavailable"
	default:
		return 500, "Server Error"
	}
}
