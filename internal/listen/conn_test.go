package listen

import (
	"context"
	"net"
	"testing"
	"time"

	"profileserver/internal/dispatch"
	"profileserver/internal/protoerr"
	"profileserver/internal/registry"
	"profileserver/internal/relay"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

func newTestServer(t *testing.T, table *dispatch.Table) (*Server, net.Conn) {
	t.Helper()
	clients := registry.NewClientRegistry(0)
	clientConn, serverConn := net.Pipe()

	srv := &Server{
		Table:    table,
		Registry: clients,
		Relay:    relay.New(clients, nil, nil),
	}

	sess := session.New(session.RoleClientCustomer, serverConn.RemoteAddr())
	c := &connHandler{server: srv, sess: sess, conn: serverConn}
	go c.run(context.Background())

	t.Cleanup(func() { clientConn.Close() })
	return srv, clientConn
}

// newTestServerWithSession is newTestServer with a chance to seed the
// session (e.g. tracking a pending response callback) before the
// connection's read loop starts consuming frames.
func newTestServerWithSession(t *testing.T, table *dispatch.Table, seed func(*session.Session)) (*Server, net.Conn) {
	t.Helper()
	clients := registry.NewClientRegistry(0)
	clientConn, serverConn := net.Pipe()

	srv := &Server{
		Table:    table,
		Registry: clients,
		Relay:    relay.New(clients, nil, nil),
	}

	sess := session.New(session.RoleClientCustomer, serverConn.RemoteAddr())
	if seed != nil {
		seed(sess)
	}
	c := &connHandler{server: srv, sess: sess, conn: serverConn}
	go c.run(context.Background())

	t.Cleanup(func() { clientConn.Close() })
	return srv, clientConn
}

func writeRequest(t *testing.T, conn net.Conn, id uint32, kind wire.RequestKind, body any) {
	t.Helper()
	msg, err := wire.NewRequest(id, false, kind, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if err := wire.WriteFrame(conn, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readResponse(t *testing.T, conn net.Conn) *wire.Response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Response == nil {
		t.Fatalf("expected a response envelope")
	}
	return msg.Response
}

func TestConnHandlerRoundTrip(t *testing.T) {
	table := dispatch.NewTable()
	table.RegisterSingle(wire.KindListRoles, dispatch.Entry{
		Roles:          []session.Role{session.RoleClientCustomer},
		RequiredStatus: session.StatusNone,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			return protoerr.OK(wire.ListRolesResponse{})
		},
	})
	_, conn := newTestServer(t, table)

	writeRequest(t, conn, 1, wire.KindListRoles, wire.ListRolesRequest{})
	resp := readResponse(t, conn)
	if resp.Status != protoerr.Ok || resp.ID != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestConnHandlerClosesOnProtocolViolation(t *testing.T) {
	table := dispatch.NewTable()
	_, conn := newTestServer(t, table)

	// An unregistered kind is a protocol violation per dispatch's
	// gates, which now close the connection.
	writeRequest(t, conn, 5, wire.KindListRoles, wire.ListRolesRequest{})
	resp := readResponse(t, conn)
	if resp.Status != protoerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", resp.Status)
	}

	// The connection loop should have closed after that reply.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFrame(conn); err == nil {
		t.Fatalf("expected the connection to be closed after a protocol violation")
	}
}

func TestConnHandlerClosesOnMalformedFrame(t *testing.T) {
	table := dispatch.NewTable()
	_, conn := newTestServer(t, table)

	if err := wire.WriteFrame(conn, []byte("not json")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	resp := readResponse(t, conn)
	if resp.ID != wire.ProtocolViolationID {
		t.Fatalf("expected the sentinel id for an undecodable envelope, got %d", resp.ID)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFrame(conn); err == nil {
		t.Fatalf("expected the connection to be closed after a malformed frame")
	}
}

func TestConnHandlerClosesOnUnmatchedResponse(t *testing.T) {
	table := dispatch.NewTable()
	_, conn := newTestServer(t, table)

	msg, err := wire.NewResponse(999, false, wire.KindListRoles, protoerr.Ok, "", nil)
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if err := wire.WriteFrame(conn, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFrame(conn); err == nil {
		t.Fatalf("expected the connection to close on an unmatched response")
	}
}

func TestConnHandlerPanicReplyIsProtocolViolation(t *testing.T) {
	table := dispatch.NewTable()
	table.RegisterSingle(wire.KindListRoles, dispatch.Entry{
		Roles:          []session.Role{session.RoleClientCustomer},
		RequiredStatus: session.StatusNone,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			panic("boom")
		},
	})
	_, conn := newTestServer(t, table)

	writeRequest(t, conn, 3, wire.KindListRoles, wire.ListRolesRequest{})
	resp := readResponse(t, conn)
	if resp.ID != wire.ProtocolViolationID {
		t.Fatalf("expected the sentinel id for a handler panic, got %d", resp.ID)
	}
	if resp.Status != protoerr.ProtocolViolation {
		t.Fatalf("expected ProtocolViolation status for a handler panic, got %v", resp.Status)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFrame(conn); err == nil {
		t.Fatalf("expected the connection to close after a handler panic")
	}
}

func TestConnHandlerClosesOnMismatchedResponseKind(t *testing.T) {
	table := dispatch.NewTable()
	srv, conn := newTestServerWithSession(t, table, func(sess *session.Session) {
		sess.TrackResponseCallback(7, wire.KindIncomingCallNotification, true, func(*wire.Response) {})
	})
	_ = srv

	// The id is tracked, but the response's kind doesn't match what was
	// tracked under it and it isn't an error, so per spec.md §4.3 the
	// connection must close rather than deliver it to the callback.
	msg, err := wire.NewResponse(7, true, wire.KindApplicationServiceSendMessage, protoerr.Ok, "", nil)
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if err := wire.WriteFrame(conn, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFrame(conn); err == nil {
		t.Fatalf("expected the connection to close on a mismatched response kind")
	}
}

func TestConnHandlerSuspendedHandlerSendsNoImmediateReply(t *testing.T) {
	table := dispatch.NewTable()
	table.RegisterSingle(wire.KindListRoles, dispatch.Entry{
		Roles:          []session.Role{session.RoleClientCustomer},
		RequiredStatus: session.StatusNone,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			return protoerr.Suspend()
		},
	})
	table.RegisterSingle(wire.KindCheckIn, dispatch.Entry{
		Roles:          []session.Role{session.RoleClientCustomer},
		RequiredStatus: session.StatusNone,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			return protoerr.OK(wire.CheckInResponse{})
		},
	})
	_, conn := newTestServer(t, table)

	writeRequest(t, conn, 1, wire.KindListRoles, wire.ListRolesRequest{})
	// A second, ordinary request on the same connection proves the
	// loop is still alive and reading, even though the first reply
	// never came.
	writeRequest(t, conn, 2, wire.KindCheckIn, wire.CheckInRequest{})

	resp := readResponse(t, conn)
	if resp.ID != 2 || resp.Status != protoerr.Ok {
		t.Fatalf("expected the second request's reply to arrive first, got %+v", resp)
	}
}
