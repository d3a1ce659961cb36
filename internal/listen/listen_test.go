package listen

import (
	"testing"

	"profileserver/internal/config"
	"profileserver/internal/session"
)

func TestPortAddrFormatsListenAllInterfaces(t *testing.T) {
	if got := portAddr(16987); got != ":16987" {
		t.Fatalf("expected :16987, got %q", got)
	}
}

func TestEndpointsCoverAllFiveRolesWithSpecPlaintextPrimary(t *testing.T) {
	cfg := config.Defaults()
	s := &Server{Config: &cfg}
	eps := s.endpoints()
	if len(eps) != 5 {
		t.Fatalf("expected 5 endpoints, got %d", len(eps))
	}
	for _, ep := range eps {
		if ep.role == session.RolePrimary && ep.tls {
			t.Fatalf("expected Primary to be plaintext per spec's discovery endpoint")
		}
		if ep.role != session.RolePrimary && !ep.tls {
			t.Fatalf("expected role %s to require TLS", ep.role)
		}
	}
}
