package search

import (
	"context"
	"testing"

	"profileserver/internal/config"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

func TestProfileSearchPartServesFromCache(t *testing.T) {
	cfg := config.Defaults()
	h := New(nil, nil, nil, &cfg, "test-server")
	sess := session.New(session.RoleClientNonCustomer, nil)
	sess.SetSearchCache(&session.SearchCache{Records: []wire.ProfileInfo{
		{IdentityID: "a"}, {IdentityID: "b"}, {IdentityID: "c"},
	}})

	req, _ := wire.NewRequest(1, false, wire.KindProfileSearchPart, wire.ProfileSearchPartRequest{RecordIndex: 1, RecordCount: 2})
	res := h.ProfileSearchPart(context.Background(), sess, req.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	body := res.Body.(wire.ProfileSearchPartResponse)
	if len(body.Records) != 2 || body.Records[0].IdentityID != "b" {
		t.Fatalf("unexpected records: %+v", body.Records)
	}
}

func TestProfileSearchPartClampsOverrun(t *testing.T) {
	cfg := config.Defaults()
	h := New(nil, nil, nil, &cfg, "test-server")
	sess := session.New(session.RoleClientNonCustomer, nil)
	sess.SetSearchCache(&session.SearchCache{Records: []wire.ProfileInfo{{IdentityID: "a"}, {IdentityID: "b"}}})

	req, _ := wire.NewRequest(1, false, wire.KindProfileSearchPart, wire.ProfileSearchPartRequest{RecordIndex: 1, RecordCount: 10})
	res := h.ProfileSearchPart(context.Background(), sess, req.Request)
	if res.Status != protoerr.Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	body := res.Body.(wire.ProfileSearchPartResponse)
	if len(body.Records) != 1 {
		t.Fatalf("expected clamp to 1 remaining record, got %d", len(body.Records))
	}
}

func TestProfileSearchPartRejectsOutOfRangeIndex(t *testing.T) {
	cfg := config.Defaults()
	h := New(nil, nil, nil, &cfg, "test-server")
	sess := session.New(session.RoleClientNonCustomer, nil)
	sess.SetSearchCache(&session.SearchCache{Records: []wire.ProfileInfo{{IdentityID: "a"}}})

	req, _ := wire.NewRequest(1, false, wire.KindProfileSearchPart, wire.ProfileSearchPartRequest{RecordIndex: 5, RecordCount: 1})
	res := h.ProfileSearchPart(context.Background(), sess, req.Request)
	if res.Status != protoerr.InvalidValue {
		t.Fatalf("expected InvalidValue, got %v", res.Status)
	}
}

func TestProfileSearchPartRejectsWithoutCache(t *testing.T) {
	cfg := config.Defaults()
	h := New(nil, nil, nil, &cfg, "test-server")
	sess := session.New(session.RoleClientNonCustomer, nil)

	req, _ := wire.NewRequest(1, false, wire.KindProfileSearchPart, wire.ProfileSearchPartRequest{RecordIndex: 0, RecordCount: 1})
	res := h.ProfileSearchPart(context.Background(), sess, req.Request)
	if res.Status != protoerr.NotAvailable {
		t.Fatalf("expected NotAvailable, got %v", res.Status)
	}
}

func TestProfileSearchRejectsBadLimits(t *testing.T) {
	cfg := config.Defaults()
	h := New(nil, nil, nil, &cfg, "test-server")
	sess := session.New(session.RoleClientNonCustomer, nil)

	req, _ := wire.NewRequest(1, false, wire.KindProfileSearch, wire.ProfileSearchRequest{
		MaxResponseRecordCount: 200,
		MaxTotalRecordCount:    1000,
		IncludeThumbnailImages: true,
	})
	res := h.ProfileSearch(context.Background(), sess, req.Request)
	if res.Status != protoerr.InvalidValue {
		t.Fatalf("expected InvalidValue, got %v", res.Status)
	}
}

func TestProfileSearchRejectsBadRegex(t *testing.T) {
	cfg := config.Defaults()
	h := New(nil, nil, nil, &cfg, "test-server")
	sess := session.New(session.RoleClientNonCustomer, nil)

	req, _ := wire.NewRequest(1, false, wire.KindProfileSearch, wire.ProfileSearchRequest{
		MaxResponseRecordCount: 10,
		MaxTotalRecordCount:    10,
		ExtraDataRegex:         "(unterminated",
	})
	res := h.ProfileSearch(context.Background(), sess, req.Request)
	if res.Status != protoerr.InvalidValue {
		t.Fatalf("expected InvalidValue, got %v", res.Status)
	}
}
