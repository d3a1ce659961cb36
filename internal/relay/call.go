package relay

import (
	"context"
	"encoding/hex"
	"time"

	"profileserver/internal/config"
	"profileserver/internal/idcrypto"
	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/registry"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// Engine wires the relay registry to the client registry and store,
// and holds the handlers for every relay-touching request kind.
type Engine struct {
	Relays  *Registry
	Clients *registry.ClientRegistry
	Store   *store.Store
	Config  *config.Config
}

// New creates an Engine bound to its collaborators.
func New(clients *registry.ClientRegistry, st *store.Store, cfg *config.Config) *Engine {
	return &Engine{Relays: NewRegistry(), Clients: clients, Store: st, Config: cfg}
}

func newToken() (string, error) {
	b, err := idcrypto.NewToken(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CallIdentityApplicationService opens a call to a callee identity
// hosted on this server. It suspends the caller: no response is
// returned to the dispatcher here on success, because the eventual
// reply depends on the callee's decision.
func (e *Engine) CallIdentityApplicationService(ctx context.Context, callerSess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.CallIdentityApplicationServiceRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed CallIdentityApplicationServiceRequest")
	}

	target, err := e.Store.GetHostedIdentity(ctx, body.TargetIdentityID)
	if err != nil {
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.InvalidValue, "target_identity_id")
		}
		obslog.L().Errorw("call identity application service: lookup target", "err", err)
		return protoerr.InternalError()
	}
	if !target.Initialized() {
		return protoerr.Fail(protoerr.Uninitialized, "target_identity_id")
	}

	calleeSess, online := e.Clients.Get(body.TargetIdentityID)
	if !online {
		return protoerr.Fail(protoerr.NotAvailable, "target offline")
	}
	if !calleeSess.HasApplicationService(body.ServiceName) {
		return protoerr.Fail(protoerr.InvalidValue, "service_name")
	}

	callerToken, err := newToken()
	if err != nil {
		obslog.L().Errorw("call identity application service: generate caller token", "err", err)
		return protoerr.InternalError()
	}
	calleeToken, err := newToken()
	if err != nil {
		obslog.L().Errorw("call identity application service: generate callee token", "err", err)
		return protoerr.InternalError()
	}

	r := &Relay{
		CallerToken:           callerToken,
		CalleeToken:           calleeToken,
		ServiceName:           body.ServiceName,
		CreatedAt:             time.Now(),
		state:                 StateCreated,
		CallerIdentitySession: callerSess,
		CalleeIdentitySession: calleeSess,
		CallerRequestID:       req.ID,
	}
	e.Relays.Put(r)

	notifyID := calleeSess.NextMessageID()
	r.CalleeNotifyID = notifyID
	notify, err := wire.NewRequest(notifyID, true, wire.KindIncomingCallNotification, wire.IncomingCallNotificationRequest{
		CalleeToken:     calleeToken,
		CallerPublicKey: callerSess.PublicKey,
		ServiceName:     body.ServiceName,
	})
	if err != nil {
		e.Relays.Remove(r)
		obslog.L().Errorw("call identity application service: build notification", "err", err)
		return protoerr.InternalError()
	}

	// Caller's own message id is retained so the eventual accept/
	// reject reply can be addressed back to this exact request once
	// the callee responds, potentially long after this call returns.
	callerReqID := req.ID

	calleeSess.TrackResponseCallback(notifyID, wire.KindIncomingCallNotification, true, func(resp *wire.Response) {
		e.handleIncomingCallDecision(r, callerSess, callerReqID, resp)
	})

	r.setState(StateCalleeNotified)
	if err := calleeSess.Send(notify); err != nil {
		e.Relays.Remove(r)
		obslog.L().Warnw("call identity application service: notify callee", "err", err)
		return protoerr.Fail(protoerr.NotAvailable, "target offline")
	}

	return protoerr.Suspend()
}

func (e *Engine) handleIncomingCallDecision(r *Relay, callerSess *session.Session, callerReqID uint32, resp *wire.Response) {
	if r.State() == StateClosed {
		// A sweep already timed this relay out and replied NotAvailable
		// to the caller; this decision arrived too late to matter.
		return
	}

	var body wire.IncomingCallNotificationResponse
	accepted := resp.Status == protoerr.Ok
	if accepted {
		if err := resp.DecodeBody(&body); err == nil {
			accepted = body.Accept
		}
	}

	if !accepted {
		e.Relays.Remove(r)
		status := protoerr.Rejected
		if resp.Status == protoerr.NotAvailable {
			status = protoerr.NotAvailable
		}
		reply, _ := wire.NewResponse(callerReqID, true, wire.KindCallIdentityApplicationService, status, "", nil)
		_ = callerSess.Send(reply)
		return
	}

	r.setState(StateCalleeAccepted)
	reply, _ := wire.NewResponse(callerReqID, true, wire.KindCallIdentityApplicationService, protoerr.Ok, "",
		wire.CallIdentityApplicationServiceResponse{CallerToken: r.CallerToken})
	_ = callerSess.Send(reply)
}

// IncomingCallNotification is registered as a conversation-request
// handler purely so the dispatch table has an entry for the kind;
// the actual server-initiated notification never round-trips through
// Dispatch on the sending side. On the receiving (callee) side this
// handler is never invoked either -- the callee's client answers with
// a Response envelope that the connection loop routes to the
// TrackResponseCallback registered in CallIdentityApplicationService.
// A conversation_request of this kind arriving from a client is
// therefore always a protocol violation.
func (e *Engine) IncomingCallNotification(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	return protoerr.FailClose(protoerr.ProtocolViolation, "IncomingCallNotification is server-initiated only")
}
