// Package relay implements the application-service call bridge: a
// caller opens a call to a callee identity hosted on this server, the
// callee accepts or rejects over its existing connection, and the two
// sides then pair a pair of fresh connections by token to exchange
// payloads. Follows a mailbox shape where a suspended request's reply
// slot lives on the shared object (here, the Relay) rather than being
// threaded back through a call stack, because the reply is produced
// by a completely different goroutine handling the peer connection.
package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"profileserver/internal/session"
)

// State is the relay's lifecycle.
type State int

const (
	StateCreated State = iota
	StateCalleeNotified
	StateCalleeAccepted
	StateCallerAcknowledged
	StateEstablished
	StateClosed
)

// pendingSend is the mailbox for one in-flight
// ApplicationServiceSendMessage awaiting the peer's acknowledgement.
type pendingSend struct {
	fromToken string
	replyTo   *session.Session
	replyID   uint32
}

// Relay is the in-memory bridge object: keyed by both tokens in the
// Registry, it tracks state and, once paired, the two
// application-service connections carrying payloads.
type Relay struct {
	mu sync.Mutex

	CallerToken string
	CalleeToken string
	ServiceName string
	CreatedAt   time.Time

	state State

	// CallerIdentitySession/CalleeIdentitySession are the original
	// ClientCustomer/ClientNonCustomer sessions the call was placed
	// and accepted over.
	CallerIdentitySession *session.Session
	CalleeIdentitySession *session.Session

	// CallerRequestID is the caller's original CallIdentityApplicationService
	// message id, retained so a sweep-driven timeout can address its
	// NotAvailable reply back to the still-suspended request.
	CallerRequestID uint32

	// CalleeNotifyID is the message id the IncomingCallNotification was
	// sent under, so a sweep-driven timeout can pop the matching
	// response callback before it fires on a relay that no longer
	// exists.
	CalleeNotifyID uint32

	// CallerAppSession/CalleeAppSession are the fresh ClientAppService
	// connections that paired by presenting a token, once Established.
	CallerAppSession *session.Session
	CalleeAppSession *session.Session

	pending *pendingSend
}

func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Registry indexes live relays by both of their tokens, following the
// same atomic-snapshot idiom as internal/registry's client index:
// reads (one per relayed frame) never take a lock.
type Registry struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]*Relay]
}

// NewRegistry creates an empty relay registry.
func NewRegistry() *Registry {
	reg := &Registry{}
	empty := make(map[string]*Relay)
	reg.snapshot.Store(&empty)
	return reg
}

func (reg *Registry) load() map[string]*Relay {
	return *reg.snapshot.Load()
}

// Get returns the relay bound to token, if any.
func (reg *Registry) Get(token string) (*Relay, bool) {
	r, ok := reg.load()[token]
	return r, ok
}

// Put registers a relay under both of its tokens atomically.
func (reg *Registry) Put(r *Relay) {
	reg.writeMu.Lock()
	defer reg.writeMu.Unlock()
	old := reg.load()
	next := make(map[string]*Relay, len(old)+2)
	for k, v := range old {
		next[k] = v
	}
	next[r.CallerToken] = r
	next[r.CalleeToken] = r
	reg.snapshot.Store(&next)
}

// Remove drops a relay under both of its tokens.
func (reg *Registry) Remove(r *Relay) {
	reg.writeMu.Lock()
	defer reg.writeMu.Unlock()
	old := reg.load()
	next := make(map[string]*Relay, len(old))
	for k, v := range old {
		if v != r {
			next[k] = v
		}
	}
	reg.snapshot.Store(&next)
}

// all returns the distinct relays currently registered, each appearing
// once even though it is indexed under two token keys.
func (reg *Registry) all() []*Relay {
	snapshot := reg.load()
	seen := make(map[*Relay]struct{}, len(snapshot)/2+1)
	out := make([]*Relay, 0, len(snapshot)/2+1)
	for _, r := range snapshot {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Side reports which token role sess is currently known to the relay
// under, or "" if neither.
func (r *Relay) Side(tok string) string {
	switch tok {
	case r.CallerToken:
		return "caller"
	case r.CalleeToken:
		return "callee"
	default:
		return ""
	}
}
