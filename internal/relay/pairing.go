package relay

import (
	"context"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

// PairConnection binds a freshly accepted ClientAppService connection
// to a relay by the token it presents in its first
// ApplicationServiceSendMessage. Both sides must pair before either
// side's payload is forwarded.
func (e *Engine) pairConnection(sess *session.Session, token string) (*Relay, string, *protoerr.Result) {
	r, ok := e.Relays.Get(token)
	if !ok {
		fail := protoerr.FailClose(protoerr.NotFound, "unknown or expired token")
		return nil, "", &fail
	}

	side := r.Side(token)
	r.mu.Lock()
	defer r.mu.Unlock()

	switch side {
	case "caller":
		if r.CalleeAppSession == sess {
			// sess already paired as the callee on this same relay;
			// presenting the opposite side's token is rejected and the
			// connection is force-disconnected, same as an unknown token.
			fail := protoerr.FailClose(protoerr.NotFound, "unknown or expired token")
			return nil, "", &fail
		}
		if r.CallerAppSession != nil && r.CallerAppSession != sess {
			fail := protoerr.FailClose(protoerr.NotFound, "unknown or expired token")
			return nil, "", &fail
		}
		r.CallerAppSession = sess
	case "callee":
		if r.CallerAppSession == sess {
			fail := protoerr.FailClose(protoerr.NotFound, "unknown or expired token")
			return nil, "", &fail
		}
		if r.CalleeAppSession != nil && r.CalleeAppSession != sess {
			fail := protoerr.FailClose(protoerr.NotFound, "unknown or expired token")
			return nil, "", &fail
		}
		r.CalleeAppSession = sess
	default:
		fail := protoerr.FailClose(protoerr.NotFound, "unknown or expired token")
		return nil, "", &fail
	}

	if r.CallerAppSession != nil && r.CalleeAppSession != nil {
		r.state = StateEstablished
	}
	return r, side, nil
}

func peerOf(r *Relay, side string) *session.Session {
	if side == "caller" {
		return r.CalleeAppSession
	}
	return r.CallerAppSession
}

// ApplicationServiceSendMessage pairs the connection on its first call
// and, once both sides of the relay are established, forwards the
// payload to the peer as an ApplicationServiceReceiveMessageNotification.
// The sender is suspended until the peer's response arrives, which is
// then replayed back as this call's own response.
func (e *Engine) ApplicationServiceSendMessage(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.ApplicationServiceSendMessageRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed ApplicationServiceSendMessageRequest")
	}

	r, side, fail := e.pairConnection(sess, body.Token)
	if fail != nil {
		return *fail
	}

	r.mu.Lock()
	state := r.state
	peer := peerOf(r, side)
	r.mu.Unlock()

	if state != StateEstablished || peer == nil {
		// First frame on a token only pairs the connection; no
		// payload is forwarded until the peer has also paired.
		return protoerr.OK(wire.ApplicationServiceSendMessageResponse{})
	}

	notifyID := peer.NextMessageID()
	notify, err := wire.NewRequest(notifyID, true, wire.KindApplicationServiceReceiveMessageNotification,
		wire.ApplicationServiceReceiveMessageNotificationRequest{Payload: body.Payload})
	if err != nil {
		obslog.L().Errorw("application service send message: build notification", "err", err)
		return protoerr.InternalError()
	}

	callerReqID := req.ID
	peer.TrackResponseCallback(notifyID, wire.KindApplicationServiceReceiveMessageNotification, true, func(resp *wire.Response) {
		reply, buildErr := wire.NewResponse(callerReqID, true, wire.KindApplicationServiceSendMessage, resp.Status, resp.Details,
			wire.ApplicationServiceSendMessageResponse{})
		if buildErr != nil {
			obslog.L().Errorw("application service send message: build reply", "err", buildErr)
			return
		}
		_ = sess.Send(reply)
	})

	if err := peer.Send(notify); err != nil {
		peer.PopResponseCallback(notifyID)
		return protoerr.Fail(protoerr.NotAvailable, "peer disconnected")
	}

	return protoerr.Suspend()
}

// ApplicationServiceReceiveMessageNotification is registered purely to
// occupy the dispatch table slot; the notification is always
// server-initiated, and a client sending this kind as a request is a
// protocol violation.
func (e *Engine) ApplicationServiceReceiveMessageNotification(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	return protoerr.FailClose(protoerr.ProtocolViolation, "ApplicationServiceReceiveMessageNotification is server-initiated only")
}

// Disconnect tears down any relay a session was participating in,
// force-disconnecting the peer side so it does not wait forever on a
// vanished counterpart. Called by the connection loop on teardown for
// every role, so it is safe to call for sessions that never touched a
// relay.
func (e *Engine) Disconnect(sess *session.Session) {
	for _, r := range e.relaysInvolving(sess) {
		r.mu.Lock()
		var peer *session.Session
		switch sess {
		case r.CallerAppSession:
			peer = r.CalleeAppSession
		case r.CalleeAppSession:
			peer = r.CallerAppSession
		case r.CallerIdentitySession:
			peer = r.CalleeIdentitySession
		case r.CalleeIdentitySession:
			peer = r.CallerIdentitySession
		}
		r.state = StateClosed
		r.mu.Unlock()

		e.Relays.Remove(r)
		if peer != nil {
			peer.RequestDisconnect()
		}
	}
}

func (e *Engine) relaysInvolving(sess *session.Session) []*Relay {
	seen := make(map[*Relay]struct{})
	var out []*Relay
	for _, r := range e.Relays.all() {
		if _, dup := seen[r]; dup {
			continue
		}
		if r.involves(sess) {
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func (r *Relay) involves(sess *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess == r.CallerIdentitySession || sess == r.CalleeIdentitySession ||
		sess == r.CallerAppSession || sess == r.CalleeAppSession
}
