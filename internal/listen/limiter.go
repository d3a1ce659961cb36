package listen

import "sync"

// ipLimiter enforces two per-source-address caps, adapted from
// _examples/munonun-Web4/internal/network/limiter.go's QUIC-oriented
// per-IP conn/stream limiter. That domain multiplexes many streams
// over one QUIC connection; this one is plain TCP+TLS with a single
// request in flight per connection, so there is no literal stream
// concept to cap. The closest analogue is the ClientAppService
// endpoint, where one client address opens many short-lived
// connections to pair relay legs -- maxStreams caps those per address
// the way maxConns caps the address's total connections across every
// endpoint.
type ipLimiter struct {
	mu           sync.Mutex
	maxConns     int
	maxStreams   int
	connCounts   map[string]int
	streamCounts map[string]int
}

func newIPLimiter(maxConns, maxStreams int) *ipLimiter {
	return &ipLimiter{
		maxConns:     maxConns,
		maxStreams:   maxStreams,
		connCounts:   make(map[string]int),
		streamCounts: make(map[string]int),
	}
}

// acquireConn reports whether ip is still under maxConns, incrementing
// its count if so. maxConns <= 0 disables the check.
func (l *ipLimiter) acquireConn(ip string) bool {
	if l.maxConns <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[ip] >= l.maxConns {
		return false
	}
	l.connCounts[ip]++
	return true
}

func (l *ipLimiter) releaseConn(ip string) {
	if l.maxConns <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[ip] <= 1 {
		delete(l.connCounts, ip)
		return
	}
	l.connCounts[ip]--
}

// acquireStream reports whether ip is still under maxStreams,
// incrementing its count if so. maxStreams <= 0 disables the check.
func (l *ipLimiter) acquireStream(ip string) bool {
	if l.maxStreams <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamCounts[ip] >= l.maxStreams {
		return false
	}
	l.streamCounts[ip]++
	return true
}

func (l *ipLimiter) releaseStream(ip string) {
	if l.maxStreams <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamCounts[ip] <= 1 {
		delete(l.streamCounts, ip)
		return
	}
	l.streamCounts[ip]--
}
