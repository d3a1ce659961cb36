package dispatch

import (
	"context"
	"testing"

	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

func TestDispatchUnsupportedKind(t *testing.T) {
	tbl := NewTable()
	sess := session.New(session.RoleClientCustomer, nil)
	res := tbl.Dispatch(context.Background(), sess, &wire.Request{Kind: wire.KindListRoles})
	if res.Status != protoerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", res.Status)
	}
}

func TestDispatchBadRole(t *testing.T) {
	tbl := NewTable()
	tbl.RegisterSingle(wire.KindListRoles, Entry{
		Roles:          []session.Role{session.RolePrimary},
		RequiredStatus: session.StatusNone,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			return protoerr.OK(wire.ListRolesResponse{})
		},
	})
	sess := session.New(session.RoleClientCustomer, nil)
	res := tbl.Dispatch(context.Background(), sess, &wire.Request{Kind: wire.KindListRoles})
	if res.Status != protoerr.BadRole {
		t.Fatalf("expected BadRole, got %v", res.Status)
	}
}

func TestDispatchBadConversationStatus(t *testing.T) {
	tbl := NewTable()
	tbl.RegisterSingle(wire.KindUpdateProfile, Entry{
		Roles:          []session.Role{session.RoleClientCustomer},
		RequiredStatus: session.StatusAuthenticated,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			return protoerr.OK(wire.UpdateProfileResponse{})
		},
	})
	sess := session.New(session.RoleClientCustomer, nil)
	res := tbl.Dispatch(context.Background(), sess, &wire.Request{Kind: wire.KindUpdateProfile})
	if res.Status != protoerr.BadConversationStatus {
		t.Fatalf("expected BadConversationStatus, got %v", res.Status)
	}
}

func TestDispatchSuccess(t *testing.T) {
	tbl := NewTable()
	tbl.RegisterSingle(wire.KindListRoles, Entry{
		Roles:          []session.Role{session.RoleClientCustomer},
		RequiredStatus: session.StatusNone,
		Handler: func(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
			return protoerr.OK(wire.ListRolesResponse{Roles: []wire.RoleInfo{{Role: "Primary"}}})
		},
	})
	sess := session.New(session.RoleClientCustomer, nil)
	res := tbl.Dispatch(context.Background(), sess, &wire.Request{Kind: wire.KindListRoles})
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
}
