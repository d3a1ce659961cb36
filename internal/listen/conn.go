package listen

import (
	"context"
	"net"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// connHandler drives one accepted connection: read a frame, decode
// it, route a Response to a tracked callback or a Request to the
// dispatch table, write back the reply unless the handler suspended
// it. Generalized from a single read-then-handle-once stream pattern
// into a persistent read loop over one TCP connection carrying many
// messages.
type connHandler struct {
	server *Server
	sess   *session.Session
	conn   net.Conn

	// ip is the remote address this connection was accepted under, held
	// so teardown can release the per-IP limiter slots acquired for it.
	// Empty for connections built directly by tests, which never
	// acquired a slot in the first place.
	ip string
}

func (c *connHandler) run(ctx context.Context) {
	defer c.teardown()

	sender := &connSender{conn: c.conn}
	c.sess.SetConn(sender)

	for {
		if c.sess.DisconnectRequested() {
			return
		}

		frame, err := wire.ReadFrame(c.conn)
		if err != nil {
			return
		}

		msg, err := wire.DecodeMessage(frame)
		if err != nil {
			// The envelope couldn't even be parsed far enough to
			// recover its message id, so the violation reply must
			// use the fixed sentinel id instead.
			_ = sender.Send(wire.NewProtocolViolation(protoerr.ProtocolViolation, "malformed message envelope"))
			return
		}

		if msg.Response != nil {
			if !c.routeResponse(msg.Response) {
				// Either nothing on this side was waiting for this
				// response id, or it arrived but doesn't match the
				// tracked request's kind/conversation (and isn't an
				// error, which is the one case spec.md §4.3 exempts
				// from the match). Either way, close without a reply.
				return
			}
			continue
		}

		if !c.handleRequest(ctx, sender, msg.Request) {
			return
		}
	}
}

// handleRequest dispatches one request and writes its reply, if any.
// It returns false when the connection should close, either because
// the handler asked for it or because it panicked.
func (c *connHandler) handleRequest(ctx context.Context, sender *connSender, req *wire.Request) (keepOpen bool) {
	result, panicked := c.dispatchRecovering(ctx, sender, req)
	if panicked {
		// The sentinel-id violation reply was already sent from
		// within the recover; there is nothing more to write.
		return false
	}
	if result.Suspended {
		return true
	}

	reply, err := wire.NewResponse(req.ID, req.Conversation, req.Kind, result.Status, result.Details, result.Body)
	if err != nil {
		obslog.L().Errorw("connection: build response", "err", err)
		return false
	}
	if err := sender.Send(reply); err != nil {
		return false
	}
	return result.Outcome != protoerr.Close
}

// dispatchRecovering calls the dispatch table and converts a panicking
// handler into a generic protocol-violation-then-close reply, sent
// under the fixed sentinel id rather than the request's own id.
func (c *connHandler) dispatchRecovering(ctx context.Context, sender *connSender, req *wire.Request) (result protoerr.Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Errorw("connection: handler panic", "kind", req.Kind, "recovered", r)
			_ = sender.Send(wire.NewProtocolViolation(protoerr.ProtocolViolation, "handler failure"))
			panicked = true
		}
	}()
	result = c.server.Table.Dispatch(ctx, c.sess, req)
	return result, false
}

// routeResponse delivers an inbound response to whichever callback
// registered for its id (a relay notification's eventual reply, a
// replication batch's acknowledgement), reporting whether one was
// found and matched. Per spec.md §4.3, the tracked request and the
// inbound response must agree on single/conversation and on request
// kind unless the response carries an error status; an id with no
// tracked entry (unsolicited or duplicate) and an id whose tracked
// entry disagrees in shape are both reported as unmatched so the
// caller closes the connection.
func (c *connHandler) routeResponse(resp *wire.Response) bool {
	tracked, matches, cb := c.sess.MatchResponseCallback(resp)
	if !tracked {
		return false
	}
	if !matches {
		obslog.Tracef("connection: response id=%d kind=%s conversation=%v does not match its tracked request", resp.ID, resp.Kind, resp.Conversation)
		return false
	}
	cb(resp)
	return true
}

// teardown runs once per connection regardless of how it ended:
// release any relay this session was party to, drop it from the
// client registry if it ever checked in, and abort an in-flight
// follower initialization if this session was the follower's side of
// one.
func (c *connHandler) teardown() {
	_ = c.conn.Close()

	if c.ip != "" {
		limiter := c.server.ipLimiterFor()
		limiter.releaseConn(c.ip)
		if c.sess.Role == session.RoleClientAppService {
			limiter.releaseStream(c.ip)
		}
	}

	c.server.Relay.Disconnect(c.sess)

	if c.sess.HostedIdentityID != "" {
		c.server.Registry.Remove(c.sess.HostedIdentityID, c.sess)
	}

	if c.sess.Role == session.RoleServerNeighbor {
		followerID := c.sess.IdentityID.String()
		follower, err := c.server.Store.GetFollower(context.Background(), followerID)
		if err == nil && !follower.Initialized() {
			if err := c.server.Store.RemoveFollower(context.Background(), followerID); err != nil {
				obslog.L().Warnw("connection teardown: remove unfinished follower", "follower", followerID, "err", err)
			}
		} else if err != nil && err != store.ErrNotFound {
			obslog.L().Warnw("connection teardown: look up follower", "follower", followerID, "err", err)
		}
	}
}
