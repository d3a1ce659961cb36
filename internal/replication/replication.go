// Package replication implements neighborhood profile replication:
// the outbound follower-admission and snapshot-streaming path (a
// follower asks to be initialized, this server pushes its hosted
// identities as batched update requests), the inbound two-pass
// validate-then-apply path (this server receiving another server's
// pushed batches, either as someone's follower or as ordinary
// steady-state neighbor traffic), and the background worker that
// drains the store's FIFO action queue toward each follower.
//
// Follows a gossip-style fan-out shape: a background process walks a
// peer set and pushes a built payload to each, tolerating per-peer
// failure without aborting the batch.
package replication

import (
	"profileserver/internal/blobstore"
	"profileserver/internal/config"
	"profileserver/internal/store"
)

// Handlers holds the collaborators the outbound and inbound request
// handlers share.
type Handlers struct {
	Store  *store.Store
	Blobs  *blobstore.Store
	Config *config.Config
}

// New builds a Handlers bound to its collaborators.
func New(st *store.Store, blobs *blobstore.Store, cfg *config.Config) *Handlers {
	return &Handlers{Store: st, Blobs: blobs, Config: cfg}
}
