package identity

import (
	"context"
	"testing"

	"profileserver/internal/config"
	"profileserver/internal/idcrypto"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

func newTestHandlers() *Handlers {
	cfg := config.Defaults()
	pub, priv, err := idcrypto.GenerateKeypair()
	if err != nil {
		panic(err)
	}
	return New(nil, nil, nil, &cfg, "test-server", pub, priv)
}

func TestStartConversationRejectsUnsupportedVersion(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RoleClientNonCustomer, nil)
	pub, _, err := idcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	challenge, _ := idcrypto.NewChallenge()
	req, err := wire.NewRequest(1, true, wire.KindStartConversation, wire.StartConversationRequest{
		SupportedVersions: []string{"9.9.9"},
		ClientChallenge:   challenge,
		PublicKey:         pub,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := h.StartConversation(context.Background(), sess, req.Request)
	if res.Status != protoerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", res.Status)
	}
}

func TestStartConversationThenVerifyIdentity(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RoleClientNonCustomer, nil)
	pub, priv, err := idcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clientChallenge, _ := idcrypto.NewChallenge()

	startReq, err := wire.NewRequest(1, true, wire.KindStartConversation, wire.StartConversationRequest{
		SupportedVersions: []string{negotiatedVersion},
		ClientChallenge:   clientChallenge,
		PublicKey:         pub,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := h.StartConversation(context.Background(), sess, startReq.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v: %s", res.Status, res.Details)
	}
	body := res.Body.(wire.StartConversationResponse)

	sig := idcrypto.Sign(priv, body.ServerChallenge)
	verifyReq, err := wire.NewRequest(2, true, wire.KindVerifyIdentity, wire.VerifyIdentityRequest{Signature: sig})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res = h.VerifyIdentity(context.Background(), sess, verifyReq.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v: %s", res.Status, res.Details)
	}
	if sess.Status() != session.StatusVerified {
		t.Fatalf("expected session to be Verified, got %v", sess.Status())
	}
}

func TestVerifyIdentityRejectsBadSignature(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RoleClientNonCustomer, nil)
	pub, _, err := idcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	challenge, _ := idcrypto.NewChallenge()
	sess.Start(pub, challenge)

	req, err := wire.NewRequest(1, true, wire.KindVerifyIdentity, wire.VerifyIdentityRequest{Signature: make([]byte, 64)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := h.VerifyIdentity(context.Background(), sess, req.Request)
	if res.Status != protoerr.InvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", res.Status)
	}
}

func TestListRoles(t *testing.T) {
	h := newTestHandlers()
	sess := session.New(session.RolePrimary, nil)
	req, err := wire.NewRequest(1, false, wire.KindListRoles, wire.ListRolesRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := h.ListRoles(context.Background(), sess, req.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	body := res.Body.(wire.ListRolesResponse)
	if len(body.Roles) != 5 {
		t.Fatalf("expected 5 roles, got %d", len(body.Roles))
	}
}
