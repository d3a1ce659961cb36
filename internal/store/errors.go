package store

import "github.com/pkg/errors"

// Sentinel errors returned by repository methods when a transaction
// aborts for a domain reason rather than an infrastructure failure;
// callers in internal/identity and internal/replication translate
// these into protoerr.Status values.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrQuotaExceeded = errors.New("store: quota exceeded")
	ErrRejected      = errors.New("store: rejected")
	ErrBusy          = errors.New("store: busy")
)
