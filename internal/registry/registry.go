// Package registry provides process-wide lookup of live sessions by
// identity id, following a capped-map-plus-mutex idiom. Reads happen
// far more often than writes (every dispatch of a targeted request),
// so the registry keeps an immutable map behind an atomic.Pointer:
// readers never take a lock, and writers build a new map and swap it
// in.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"profileserver/internal/session"
)

// ErrCapacityExceeded is returned by Put when the registry is already
// at its configured capacity.
var ErrCapacityExceeded = errors.New("registry: capacity exceeded")

// ClientRegistry indexes live sessions by identity id.
type ClientRegistry struct {
	capacity int
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]*session.Session]
}

// NewClientRegistry creates a registry capped at capacity entries. A
// capacity of 0 means unbounded.
func NewClientRegistry(capacity int) *ClientRegistry {
	r := &ClientRegistry{capacity: capacity}
	empty := make(map[string]*session.Session)
	r.snapshot.Store(&empty)
	return r
}

func (r *ClientRegistry) load() map[string]*session.Session {
	return *r.snapshot.Load()
}

// Get returns the session bound to identityID, if any.
func (r *ClientRegistry) Get(identityID string) (*session.Session, bool) {
	s, ok := r.load()[identityID]
	return s, ok
}

// Len reports the current number of registered sessions.
func (r *ClientRegistry) Len() int {
	return len(r.load())
}

// Put registers sess under identityID, replacing any prior session
// for that identity (the caller is responsible for disconnecting the
// replaced session, e.g. via session.RequestDisconnect).
func (r *ClientRegistry) Put(identityID string, sess *session.Session) (*session.Session, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.load()
	replaced, hadOld := old[identityID]
	if r.capacity > 0 && !hadOld && len(old) >= r.capacity {
		return nil, ErrCapacityExceeded
	}

	next := make(map[string]*session.Session, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[identityID] = sess
	r.snapshot.Store(&next)

	if hadOld {
		return replaced, nil
	}
	return nil, nil
}

// Remove drops identityID from the registry if it currently maps to
// sess (a stale removal, e.g. from an already-replaced session's
// defer, is a no-op).
func (r *ClientRegistry) Remove(identityID string, sess *session.Session) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.load()
	current, ok := old[identityID]
	if !ok || current != sess {
		return
	}

	next := make(map[string]*session.Session, len(old))
	for k, v := range old {
		if k != identityID {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
}
