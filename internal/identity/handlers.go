// Package identity implements the session-lifecycle and
// profile-management request handlers: StartConversation through
// GetIdentityInformation. It follows a challenge-issue-then-signature-
// verification handshake shape and composes a repository with request
// validation in a usecase layer, one handler per request kind.
package identity

import (
	"crypto/ed25519"

	"profileserver/internal/blobstore"
	"profileserver/internal/config"
	"profileserver/internal/registry"
	"profileserver/internal/store"
)

// Handlers bundles the collaborators every identity operation needs.
type Handlers struct {
	Store    *store.Store
	Blobs    *blobstore.Store
	Clients  *registry.ClientRegistry
	Config   *config.Config
	ServerID string

	// PublicKey/PrivateKey are this server's own long-term keypair,
	// signed over StartConversation's client challenge so a dialing
	// peer (a would-be follower bootstrapping from this server, see
	// internal/replication's Bootstrap) can authenticate which server
	// it reached without relying on the TLS certificate alone.
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// New creates a Handlers bound to its collaborators and this server's
// own signing keypair.
func New(st *store.Store, blobs *blobstore.Store, clients *registry.ClientRegistry, cfg *config.Config, serverID string, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Handlers {
	return &Handlers{Store: st, Blobs: blobs, Clients: clients, Config: cfg, ServerID: serverID, PublicKey: pub, PrivateKey: priv}
}
