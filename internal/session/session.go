// Package session models one connected socket's conversation state: a
// status enum gating which requests are legal, a pending-handshake
// mailbox for challenge/response, and a per-connection role tag.
package session

import (
	"crypto/ed25519"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"profileserver/internal/idcrypto"
	"profileserver/internal/protoerr"
	"profileserver/internal/wire"
)

var errNoConnection = errors.New("session: no connection attached")

// Sender is the connection-loop side of a session: handlers that must
// push a message outside the normal request/response round trip (the
// relay's callee notification, a replication batch, a suspended
// caller's eventual reply) call Send directly instead of returning a
// dispatch result.
type Sender interface {
	Send(m wire.Message) error
}

// Role names one of the five listening endpoints a connection arrived
// on. A session's Role is fixed at accept time.
type Role string

const (
	RolePrimary          Role = "Primary"
	RoleServerNeighbor    Role = "ServerNeighbor"
	RoleClientNonCustomer Role = "ClientNonCustomer"
	RoleClientCustomer    Role = "ClientCustomer"
	RoleClientAppService  Role = "ClientAppService"
)

// Status is the conversation state machine: None before
// StartConversation, Started once a challenge has been issued,
// Verified once the client has proven key possession, and
// Authenticated once CheckIn has additionally bound a hosted
// identity.
type Status int

const (
	StatusNone Status = iota
	StatusStarted
	StatusVerified
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusStarted:
		return "Started"
	case StatusVerified:
		return "Verified"
	case StatusAuthenticated:
		return "Authenticated"
	default:
		return "Unknown"
	}
}

// atLeast reports whether s satisfies a required minimum status.
func (s Status) atLeast(min Status) bool {
	return s >= min
}

// Session is the mutable state of one accepted connection. All
// mutation happens through its methods, which take the lock; callers
// outside the session package must not reach into its fields.
type Session struct {
	mu sync.Mutex

	RemoteEndpoint net.Addr
	Role           Role
	Conn           Sender

	nextMsgID atomic.Uint32

	status Status

	PublicKey  ed25519.PublicKey
	IdentityID idcrypto.IdentityID

	challenge []byte

	// HostedIdentityID is set once CheckIn resolves a hosted identity
	// for this session; empty until then.
	HostedIdentityID string

	// ApplicationServices is the set of service names this session has
	// registered via ApplicationServiceAdd.
	ApplicationServices map[string]struct{}

	// ResponseCallbacks holds handlers for server-initiated requests
	// this session's connection is awaiting a response to (relay
	// notifications, replication batch acknowledgements). The
	// connection loop consults this before falling back to ordinary
	// conversation-response handling; popping it also doubles as the
	// unsolicited/duplicate-response guard, since a response id with
	// no registered callback has nothing legitimate to answer. Each
	// entry retains the kind/conversation flag the original request was
	// sent under, so the connection loop can enforce spec.md §4.3's
	// pairing rule (kind and single/conversation must match, unless the
	// response is an error) before invoking the callback.
	ResponseCallbacks map[uint32]pendingResponse

	// SearchCache holds the most recent ProfileSearch result set for
	// paging via ProfileSearchPart.
	SearchCache *SearchCache

	KeepAliveDeadline time.Time

	// NeighborhoodInitInProgress is set for a ServerNeighbor session
	// that has issued StartNeighborhoodInitialization and not yet
	// received FinishNeighborhoodInitialization.
	NeighborhoodInitInProgress bool

	// ForceDisconnect is set by another goroutine (e.g. a replaced
	// registry entry) to request the connection loop terminate at its
	// next opportunity.
	ForceDisconnect bool
}

// SearchCache holds one session's paged search results, replaced
// wholesale by every fresh ProfileSearch and read incrementally by
// ProfileSearchPart.
type SearchCache struct {
	Records   []wire.ProfileInfo
	CreatedAt time.Time
}

// pendingResponse is one tracked server-initiated request awaiting its
// matching response: the callback to run, plus the request/conversation
// shape a legitimate response must echo back.
type pendingResponse struct {
	Kind         wire.RequestKind
	Conversation bool
	Callback     func(*wire.Response)
}

// New creates a session bound to a role and remote address, in status
// None.
func New(role Role, remote net.Addr) *Session {
	return &Session{
		Role:                role,
		RemoteEndpoint:      remote,
		status:              StatusNone,
		ApplicationServices: make(map[string]struct{}),
		ResponseCallbacks:   make(map[uint32]pendingResponse),
	}
}

// TrackResponseCallback registers cb to run when a response bearing id
// and matching (kind, conversation) arrives on this session, used for
// requests the server itself initiated (relay notifications,
// replication batches).
func (s *Session) TrackResponseCallback(id uint32, kind wire.RequestKind, conversation bool, cb func(*wire.Response)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseCallbacks[id] = pendingResponse{Kind: kind, Conversation: conversation, Callback: cb}
}

// PopResponseCallback removes and returns the pending response tracked
// for id, if any, without checking its expected shape against a
// response -- callers that already know the response is theirs to
// deliver (a sweep-driven timeout, a self-initiated pop after a failed
// send) use this directly. Ordinary inbound-response routing goes
// through MatchResponseCallback instead so the kind/conversation check
// in spec.md §4.3 cannot be bypassed.
func (s *Session) PopResponseCallback(id uint32) (func(*wire.Response), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ResponseCallbacks[id]
	if ok {
		delete(s.ResponseCallbacks, id)
	}
	return p.Callback, ok
}

// MatchResponseCallback looks up the pending response tracked for
// resp.ID without popping it, reporting whether it matches (kind,
// conversation) or whether resp itself is a matching pair per
// spec.md §4.3's precondition ("must match in single/conversation and
// in request type, unless response is an error"). It returns three
// results: whether an id was tracked at all (false means unsolicited/
// duplicate response), whether the tracked entry's shape matches this
// response, and the callback to invoke when it does. The entry is
// popped only when the caller goes on to invoke the callback, so a
// caller wanting the mismatch-closes-the-connection behavior can leave
// the (now-orphaned) entry to expire on session teardown rather than
// resurrect it for a later, equally illegitimate response.
func (s *Session) MatchResponseCallback(resp *wire.Response) (tracked bool, matches bool, cb func(*wire.Response)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ResponseCallbacks[resp.ID]
	if !ok {
		return false, false, nil
	}
	if resp.Status != protoerr.Ok || (p.Kind == resp.Kind && p.Conversation == resp.Conversation) {
		delete(s.ResponseCallbacks, resp.ID)
		return true, true, p.Callback
	}
	return true, false, nil
}

// SetConn attaches (or replaces) the connection used for
// out-of-band sends.
func (s *Session) SetConn(c Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Conn = c
}

// NextMessageID returns a fresh, session-scoped message id for a
// server-initiated request (relay notifications, replication
// batches).
func (s *Session) NextMessageID() uint32 {
	return s.nextMsgID.Add(1)
}

// Send pushes a message to this session's connection outside the
// normal dispatch return path. It is a no-op returning an error if
// the session has no live connection attached.
func (s *Session) Send(m wire.Message) error {
	s.mu.Lock()
	conn := s.Conn
	s.mu.Unlock()
	if conn == nil {
		return errNoConnection
	}
	return conn.Send(m)
}

// Status returns the current conversation status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RequireStatus reports whether the session's current status is at
// least min.
func (s *Session) RequireStatus(min Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.atLeast(min)
}

// Start transitions None -> Started, recording the client's public
// key and a freshly issued server challenge.
func (s *Session) Start(pub ed25519.PublicKey, challenge []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PublicKey = pub
	s.IdentityID = idcrypto.DeriveIdentityID(pub)
	s.challenge = challenge
	s.status = StatusStarted
}

// Challenge returns the challenge issued at Start, or nil if none.
func (s *Session) Challenge() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

// Verify transitions Started -> Verified. Callers must have already
// checked the signature against Challenge() and PublicKey.
func (s *Session) Verify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStarted {
		s.status = StatusVerified
	}
}

// Authenticate transitions Started or Verified -> Authenticated,
// binding a hosted identity id resolved by CheckIn. CheckIn performs
// its own signature check against the session's challenge, so it
// reaches Authenticated directly from Started without an intervening
// VerifyIdentity call.
func (s *Session) Authenticate(hostedIdentityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStarted || s.status == StatusVerified {
		s.status = StatusAuthenticated
	}
	s.HostedIdentityID = hostedIdentityID
}

// AddApplicationService registers a service name for this session.
func (s *Session) AddApplicationService(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ApplicationServices[name] = struct{}{}
}

// RemoveApplicationService unregisters a service name.
func (s *Session) RemoveApplicationService(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ApplicationServices, name)
}

// HasApplicationService reports whether name is registered.
func (s *Session) HasApplicationService(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ApplicationServices[name]
	return ok
}

// SetSearchCache installs a fresh search result cache.
func (s *Session) SetSearchCache(c *SearchCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCache = c
}

// GetSearchCache returns the current search cache, or nil.
func (s *Session) GetSearchCache() *SearchCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SearchCache
}

// RefreshKeepAlive pushes the keepalive deadline forward by interval.
func (s *Session) RefreshKeepAlive(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.KeepAliveDeadline = time.Now().Add(interval)
}

// KeepAliveExpired reports whether the keepalive deadline has passed.
func (s *Session) KeepAliveExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.KeepAliveDeadline.IsZero() && time.Now().After(s.KeepAliveDeadline)
}

// RequestDisconnect marks the session for termination from outside
// its own connection goroutine.
func (s *Session) RequestDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ForceDisconnect = true
}

// DisconnectRequested reports whether RequestDisconnect was called.
func (s *Session) DisconnectRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ForceDisconnect
}

// BeginNeighborhoodInit marks a ServerNeighbor session as having an
// initialization stream in progress.
func (s *Session) BeginNeighborhoodInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NeighborhoodInitInProgress = true
}

// EndNeighborhoodInit clears the in-progress flag.
func (s *Session) EndNeighborhoodInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NeighborhoodInitInProgress = false
}

// IsNeighborhoodInitInProgress reports the current flag value.
func (s *Session) IsNeighborhoodInitInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NeighborhoodInitInProgress
}
