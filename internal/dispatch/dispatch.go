// Package dispatch routes decoded envelopes to handlers through an
// explicit table keyed by (conversation flag, request kind), each
// entry carrying its own role and status gate so the gate can't drift
// out of sync with the handler it protects.
package dispatch

import (
	"context"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

// Handler processes a decoded request body for one session and
// returns a protoerr.Result carrying the response body and status.
// A handler that wants to suspend the caller (the relay's call setup
// and forwarded messages) returns protoerr.Suspend() and is responsible
// for eventually delivering the response itself via the session's
// connection.
type Handler func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result

// Entry is one dispatch table row.
type Entry struct {
	Roles          []session.Role
	RequiredStatus session.Status
	Handler        Handler
}

// Table maps (conversation, kind) to its entry. Two separate maps
// avoid encoding the conversation flag into the key type.
type Table struct {
	single       map[wire.RequestKind]Entry
	conversation map[wire.RequestKind]Entry
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{
		single:       make(map[wire.RequestKind]Entry),
		conversation: make(map[wire.RequestKind]Entry),
	}
}

// RegisterSingle adds a single-request entry.
func (t *Table) RegisterSingle(kind wire.RequestKind, e Entry) {
	t.single[kind] = e
}

// RegisterConversation adds a conversation-request entry.
func (t *Table) RegisterConversation(kind wire.RequestKind, e Entry) {
	t.conversation[kind] = e
}

func (t *Table) lookup(conversation bool, kind wire.RequestKind) (Entry, bool) {
	if conversation {
		e, ok := t.conversation[kind]
		return e, ok
	}
	e, ok := t.single[kind]
	return e, ok
}

func roleAllowed(roles []session.Role, role session.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Dispatch resolves and invokes the handler for req against sess,
// applying the role and status gates before calling into the
// handler. An unknown kind, a disallowed role, or an unmet status
// requirement is a protocol violation: the caller replies with the
// failure and closes the connection, so all three gates return a
// Close outcome rather than leaving the decision up to the caller.
func (t *Table) Dispatch(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	entry, ok := t.lookup(req.Conversation, req.Kind)
	if !ok {
		obslog.Tracef("dispatch: unsupported kind=%s conversation=%v", req.Kind, req.Conversation)
		return protoerr.FailClose(protoerr.Unsupported, string(req.Kind))
	}

	if !roleAllowed(entry.Roles, sess.Role) {
		return protoerr.FailClose(protoerr.BadRole, string(sess.Role))
	}
	if !sess.RequireStatus(entry.RequiredStatus) {
		return protoerr.FailClose(protoerr.BadConversationStatus, sess.Status().String())
	}

	return entry.Handler(ctx, sess, req)
}
