package listen

import (
	"context"
	"net"
	"testing"
	"time"

	"profileserver/internal/config"
	"profileserver/internal/dispatch"
	"profileserver/internal/registry"
	"profileserver/internal/relay"
	"profileserver/internal/session"
)

// TestAcceptLoopEnforcesPerIPConnCap dials past a MaxConnsPerIP=1
// server twice from the same address and checks the second connection
// is closed immediately rather than handed to a connHandler.
func TestAcceptLoopEnforcesPerIPConnCap(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clients := registry.NewClientRegistry(0)
	srv := &Server{
		Table:    dispatch.NewTable(),
		Registry: clients,
		Relay:    relay.New(clients, nil, nil),
		Config:   &config.Config{MaxConnsPerIP: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.acceptLoop(ctx, session.RoleClientCustomer, ln)

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected the over-cap connection to be closed by the server")
	}
}
