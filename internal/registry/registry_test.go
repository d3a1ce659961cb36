package registry

import (
	"testing"

	"profileserver/internal/session"
)

func TestPutGetRemove(t *testing.T) {
	r := NewClientRegistry(0)
	s1 := session.New(session.RoleClientCustomer, nil)

	if _, err := r.Put("id-1", s1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := r.Get("id-1")
	if !ok || got != s1 {
		t.Fatalf("expected to retrieve s1")
	}

	r.Remove("id-1", s1)
	if _, ok := r.Get("id-1"); ok {
		t.Fatalf("expected id-1 to be removed")
	}
}

func TestPutReplacesAndReturnsOld(t *testing.T) {
	r := NewClientRegistry(0)
	s1 := session.New(session.RoleClientCustomer, nil)
	s2 := session.New(session.RoleClientCustomer, nil)

	if _, err := r.Put("id-1", s1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	old, err := r.Put("id-1", s2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if old != s1 {
		t.Fatalf("expected replaced session to be s1")
	}
	got, _ := r.Get("id-1")
	if got != s2 {
		t.Fatalf("expected current session to be s2")
	}
}

func TestRemoveIgnoresStaleSession(t *testing.T) {
	r := NewClientRegistry(0)
	s1 := session.New(session.RoleClientCustomer, nil)
	s2 := session.New(session.RoleClientCustomer, nil)

	if _, err := r.Put("id-1", s1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Put("id-1", s2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A stale remove referencing the replaced session must not touch
	// the live one.
	r.Remove("id-1", s1)
	if _, ok := r.Get("id-1"); !ok {
		t.Fatalf("expected id-1 to remain registered under s2")
	}
}

func TestCapacityExceeded(t *testing.T) {
	r := NewClientRegistry(1)
	s1 := session.New(session.RoleClientCustomer, nil)
	s2 := session.New(session.RoleClientCustomer, nil)

	if _, err := r.Put("id-1", s1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Put("id-2", s2); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}
