package identity

import (
	"context"
	"testing"

	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

func TestApplicationServiceAddRemove(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RoleClientAppService, nil)

	addReq, _ := wire.NewRequest(1, false, wire.KindApplicationServiceAdd, wire.ApplicationServiceAddRequest{Name: "chat"})
	res := h.ApplicationServiceAdd(context.Background(), sess, addReq.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	if !sess.HasApplicationService("chat") {
		t.Fatalf("expected chat to be registered")
	}

	removeReq, _ := wire.NewRequest(2, false, wire.KindApplicationServiceRemove, wire.ApplicationServiceRemoveRequest{Name: "chat"})
	res = h.ApplicationServiceRemove(context.Background(), sess, removeReq.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	if sess.HasApplicationService("chat") {
		t.Fatalf("expected chat to be removed")
	}
}

func TestApplicationServiceAddRejectsOverlongName(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RoleClientAppService, nil)
	name := make([]byte, maxAppServiceName+1)
	for i := range name {
		name[i] = 'a'
	}
	req, _ := wire.NewRequest(1, false, wire.KindApplicationServiceAdd, wire.ApplicationServiceAddRequest{Name: string(name)})
	res := h.ApplicationServiceAdd(context.Background(), sess, req.Request)
	if res.Status != protoerr.InvalidValue {
		t.Fatalf("expected InvalidValue, got %v", res.Status)
	}
}

func TestApplicationServiceAddEnforcesCap(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RoleClientAppService, nil)
	for i := 0; i < maxAppServices; i++ {
		sess.AddApplicationService(string(rune('a' + i)))
	}
	req, _ := wire.NewRequest(1, false, wire.KindApplicationServiceAdd, wire.ApplicationServiceAddRequest{Name: "one-too-many"})
	res := h.ApplicationServiceAdd(context.Background(), sess, req.Request)
	if res.Status != protoerr.QuotaExceeded {
		t.Fatalf("expected QuotaExceeded, got %v", res.Status)
	}
}
