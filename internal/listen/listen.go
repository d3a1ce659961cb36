// Package listen runs the five role-tagged TCP endpoints and drives
// each accepted connection's read loop, generalized from an
// accept-then-spawn-per-connection shape onto plain TCP+TLS framing
// instead of a stream-per-message transport.
package listen

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"profileserver/internal/config"
	"profileserver/internal/dispatch"
	"profileserver/internal/obslog"
	"profileserver/internal/registry"
	"profileserver/internal/relay"
	"profileserver/internal/session"
	"profileserver/internal/store"
)

// Server owns the collaborators every connection loop needs and the
// dispatch table built once at startup by cmd/profileserver.
type Server struct {
	Table    *dispatch.Table
	Registry *registry.ClientRegistry
	Relay    *relay.Engine
	Store    *store.Store
	Config   *config.Config

	limiterOnce sync.Once
	limiter     *ipLimiter
}

// ipLimiterFor returns the server's per-IP limiter, built lazily from
// Config on first use so tests constructing a bare Server (nil Config)
// still work -- a nil Config is treated as "limiting disabled".
func (s *Server) ipLimiterFor() *ipLimiter {
	s.limiterOnce.Do(func() {
		maxConns, maxStreams := 0, 0
		if s.Config != nil {
			maxConns = s.Config.MaxConnsPerIP
			maxStreams = s.Config.MaxAppServiceStreamsPerIP
		}
		s.limiter = newIPLimiter(maxConns, maxStreams)
	})
	return s.limiter
}

// endpoint pairs a role with the port it listens on and whether the
// listener is wrapped in TLS. Primary is deliberately plaintext (it
// is the discovery endpoint for ListRoles); every other role requires
// TLS since it carries authenticated conversations.
type endpoint struct {
	role Role
	port uint16
	tls  bool
}

// Role re-exports session.Role so callers configuring listeners don't
// need to import internal/session directly.
type Role = session.Role

func (s *Server) endpoints() []endpoint {
	return []endpoint{
		{session.RolePrimary, s.Config.PrimaryPort, false},
		{session.RoleServerNeighbor, s.Config.ServerNeighborPort, true},
		{session.RoleClientNonCustomer, s.Config.ClientNonCustomerPort, true},
		{session.RoleClientCustomer, s.Config.ClientCustomerPort, true},
		{session.RoleClientAppService, s.Config.ClientAppServicePort, true},
	}
}

// Run starts all five listeners and blocks until ctx is cancelled or
// one of them fails to bind. A bind failure on any one endpoint tears
// down the others, since a server missing one of its five roles is
// not a valid deployment.
func (s *Server) Run(ctx context.Context) error {
	var tlsConf *tls.Config
	for _, ep := range s.endpoints() {
		if ep.tls {
			var err error
			tlsConf, err = loadServerTLSConfig(s.Config)
			if err != nil {
				return errors.Wrap(err, "listen: load TLS material")
			}
			break
		}
	}

	listeners := make([]net.Listener, 0, len(s.endpoints()))
	closeAll := func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}

	for _, ep := range s.endpoints() {
		addr := portAddr(ep.port)
		var ln net.Listener
		var err error
		if ep.tls {
			ln, err = tls.Listen("tcp", addr, tlsConf)
		} else {
			ln, err = net.Listen("tcp", addr)
		}
		if err != nil {
			closeAll()
			return errors.Wrapf(err, "listen: bind %s (%s)", addr, ep.role)
		}
		obslog.L().Infow("listener ready", "role", ep.role, "addr", addr, "tls", ep.tls)
		listeners = append(listeners, ln)
		go s.acceptLoop(ctx, ep.role, ln)
	}

	<-ctx.Done()
	closeAll()
	return nil
}

func portAddr(port uint16) string {
	return net.JoinHostPort("", strconv.Itoa(int(port)))
}

func (s *Server) acceptLoop(ctx context.Context, role session.Role, ln net.Listener) {
	limiter := s.ipLimiterFor()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				obslog.L().Warnw("accept error", "role", role, "err", err)
				return
			}
		}

		ip := remoteIP(conn.RemoteAddr())
		if !limiter.acquireConn(ip) {
			obslog.L().Warnw("connection rejected: per-IP connection cap", "role", role, "ip", ip)
			_ = conn.Close()
			continue
		}
		if role == session.RoleClientAppService && !limiter.acquireStream(ip) {
			obslog.L().Warnw("connection rejected: per-IP app-service cap", "role", role, "ip", ip)
			limiter.releaseConn(ip)
			_ = conn.Close()
			continue
		}

		sess := session.New(role, conn.RemoteAddr())
		c := &connHandler{server: s, sess: sess, conn: conn, ip: ip}
		go c.run(ctx)
	}
}

// remoteIP extracts the bare address from a net.Addr, falling back to
// its full string form for addresses SplitHostPort can't parse (e.g.
// net.Pipe()'s in tests).
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
