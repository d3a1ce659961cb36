package session

import (
	"testing"
	"time"

	"profileserver/internal/protoerr"
	"profileserver/internal/wire"
)

func TestStatusProgression(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	if s.Status() != StatusNone {
		t.Fatalf("expected None, got %v", s.Status())
	}
	s.Start(nil, []byte("challenge"))
	if s.Status() != StatusStarted {
		t.Fatalf("expected Started, got %v", s.Status())
	}
	s.Verify()
	if s.Status() != StatusVerified {
		t.Fatalf("expected Verified, got %v", s.Status())
	}
	s.Authenticate("id-123")
	if s.Status() != StatusAuthenticated {
		t.Fatalf("expected Authenticated, got %v", s.Status())
	}
	if s.HostedIdentityID != "id-123" {
		t.Fatalf("expected hosted identity id to be recorded")
	}
}

func TestAuthenticateDirectlyFromStarted(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	s.Start(nil, []byte("challenge"))
	s.Authenticate("id-456")
	if s.Status() != StatusAuthenticated {
		t.Fatalf("expected CheckIn to reach Authenticated without an intervening VerifyIdentity, got %v", s.Status())
	}
}

func TestAuthenticateNoopFromNone(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	s.Authenticate("id-789")
	if s.Status() != StatusNone {
		t.Fatalf("expected Authenticate from None to be a no-op, got %v", s.Status())
	}
}

func TestVerifySkipWithoutStart(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	s.Verify()
	if s.Status() != StatusNone {
		t.Fatalf("Verify from None should be a no-op, got %v", s.Status())
	}
}

func TestRequireStatus(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	s.Start(nil, []byte("c"))
	if s.RequireStatus(StatusVerified) {
		t.Fatalf("Started should not satisfy Verified minimum")
	}
	s.Verify()
	if !s.RequireStatus(StatusStarted) {
		t.Fatalf("Verified should satisfy Started minimum")
	}
}

func TestResponseCallbackPopIsOneShot(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	called := false
	s.TrackResponseCallback(7, wire.KindIncomingCallNotification, true, func(*wire.Response) { called = true })

	cb, ok := s.PopResponseCallback(7)
	if !ok {
		t.Fatalf("expected callback 7 to be registered")
	}
	cb(&wire.Response{})
	if !called {
		t.Fatalf("expected callback to run")
	}

	if _, ok := s.PopResponseCallback(7); ok {
		t.Fatalf("expected popping twice to fail the second time, guarding against a duplicate response")
	}
}

func TestMatchResponseCallbackRejectsKindMismatch(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	called := false
	s.TrackResponseCallback(9, wire.KindIncomingCallNotification, true, func(*wire.Response) { called = true })

	tracked, matches, cb := s.MatchResponseCallback(&wire.Response{ID: 9, Kind: wire.KindApplicationServiceSendMessage, Conversation: true, Status: protoerr.Ok})
	if !tracked {
		t.Fatalf("expected id 9 to be tracked")
	}
	if matches {
		t.Fatalf("expected a response of the wrong kind not to match")
	}
	if cb != nil {
		t.Fatalf("expected no callback returned on mismatch")
	}
	if called {
		t.Fatalf("expected the callback not to have run")
	}

	// The mismatched lookup must not have popped the entry: a later,
	// genuinely-matching response for the same id should still work,
	// mirroring how a single request id is only ever answered once.
	tracked, matches, cb = s.MatchResponseCallback(&wire.Response{ID: 9, Kind: wire.KindIncomingCallNotification, Conversation: true, Status: protoerr.Ok})
	if !tracked || !matches || cb == nil {
		t.Fatalf("expected the correctly-shaped response to match")
	}
	cb(&wire.Response{})
	if !called {
		t.Fatalf("expected callback to run")
	}
}

func TestMatchResponseCallbackAllowsErrorRegardlessOfKind(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	called := false
	s.TrackResponseCallback(3, wire.KindIncomingCallNotification, true, func(*wire.Response) { called = true })

	tracked, matches, cb := s.MatchResponseCallback(&wire.Response{ID: 3, Kind: wire.KindApplicationServiceSendMessage, Conversation: false, Status: protoerr.NotAvailable})
	if !tracked || !matches || cb == nil {
		t.Fatalf("expected an error response to bypass the kind/conversation check")
	}
	cb(&wire.Response{})
	if !called {
		t.Fatalf("expected callback to run")
	}
}

func TestMatchResponseCallbackUnsolicitedResponse(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	tracked, matches, cb := s.MatchResponseCallback(&wire.Response{ID: 42, Status: protoerr.Ok})
	if tracked || matches || cb != nil {
		t.Fatalf("expected an untracked id to report as neither tracked nor matched")
	}
}

func TestApplicationServiceSet(t *testing.T) {
	s := New(RoleClientAppService, nil)
	s.AddApplicationService("chat")
	if !s.HasApplicationService("chat") {
		t.Fatalf("expected chat service registered")
	}
	s.RemoveApplicationService("chat")
	if s.HasApplicationService("chat") {
		t.Fatalf("expected chat service removed")
	}
}

func TestKeepAliveExpiry(t *testing.T) {
	s := New(RoleClientCustomer, nil)
	if s.KeepAliveExpired() {
		t.Fatalf("zero deadline should not be expired")
	}
	s.RefreshKeepAlive(-time.Second)
	if !s.KeepAliveExpired() {
		t.Fatalf("expected expiry after negative refresh")
	}
}
