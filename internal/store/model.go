// Package store is the relational persistence layer, grounded on
// OscillatingBlock-GOssip's internal/user/{model,repository} split:
// bun struct tags for schema, a thin repository type per aggregate,
// and RunInTx + SELECT ... FOR UPDATE for multi-row invariants.
//
// Lock ordering across every transaction that touches more than one
// table in this package follows a single fixed order: HostedIdentity
// < NeighborIdentity < Follower < NeighborhoodAction < Neighbor <
// RelatedIdentityCard. Every method that opens a multi-model
// transaction acquires locks in that order regardless of the order
// its arguments were supplied in.
package store

import (
	"time"

	"github.com/uptrace/bun"
)

// InvalidSemver is the sentinel version marking a profile that has
// never been initialized.
const InvalidSemver = "0.0.0"

// HostedIdentity is an identity this server hosts.
type HostedIdentity struct {
	bun.BaseModel `bun:"table:hosted_identities"`

	IdentityID string `bun:",pk"`
	PublicKey  []byte `bun:",notnull"`

	Semver    string  `bun:",notnull,default:'0.0.0'"`
	Name      string  `bun:""`
	Type      string  `bun:""`
	Lat       float64 `bun:""`
	Lon       float64 `bun:""`
	ExtraData string  `bun:""`

	ProfileImageRef   string `bun:""`
	ThumbnailImageRef string `bun:""`

	HostingRedirectID string `bun:""`

	ExpirationAt *time.Time `bun:",nullzero"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Initialized reports whether the profile has ever been given a
// real semantic version.
func (h *HostedIdentity) Initialized() bool {
	return h.Semver != InvalidSemver && h.Semver != ""
}

// Expired reports whether the hosting agreement has been cancelled.
func (h *HostedIdentity) Expired() bool {
	return h.ExpirationAt != nil && h.ExpirationAt.Before(time.Now())
}

// Neighbor is a peer server whose identities are replicated locally.
type Neighbor struct {
	bun.BaseModel `bun:"table:neighbors"`

	NeighborID    string     `bun:",pk"`
	LastRefreshAt *time.Time `bun:",nullzero"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Initialized reports whether the neighbor has completed at least
// one full initialization stream.
func (n *Neighbor) Initialized() bool {
	return n.LastRefreshAt != nil
}

// NeighborIdentity is an identity replicated from a Neighbor.
type NeighborIdentity struct {
	bun.BaseModel `bun:"table:neighbor_identities"`

	IdentityID string `bun:",pk"`
	NeighborID string `bun:",pk"`

	PublicKey []byte `bun:",notnull"`

	Semver    string  `bun:",notnull,default:'0.0.0'"`
	Name      string  `bun:""`
	Type      string  `bun:""`
	Lat       float64 `bun:""`
	Lon       float64 `bun:""`
	ExtraData string  `bun:""`

	ProfileImageRef   string `bun:""`
	ThumbnailImageRef string `bun:""`

	HostingServerID string `bun:""`

	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Follower is a peer server that receives our updates.
type Follower struct {
	bun.BaseModel `bun:"table:followers"`

	FollowerID    string     `bun:",pk"`
	IP            string     `bun:",notnull"`
	PrimaryPort   uint16     `bun:",notnull"`
	NeighborPort  uint16     `bun:",notnull"`
	LastRefreshAt *time.Time `bun:",nullzero"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Initialized reports whether the follower's initialization stream
// has completed.
func (f *Follower) Initialized() bool {
	return f.LastRefreshAt != nil
}

// NeighborhoodActionType enumerates the outbound replication task
// kinds.
type NeighborhoodActionType string

const (
	ActionAddProfile               NeighborhoodActionType = "AddProfile"
	ActionChangeProfile            NeighborhoodActionType = "ChangeProfile"
	ActionRemoveProfile            NeighborhoodActionType = "RemoveProfile"
	ActionInitializationInProgress NeighborhoodActionType = "InitializationInProgress"
)

// NeighborhoodAction is one outbound replication task, produced
// transactionally alongside the change that caused it.
type NeighborhoodAction struct {
	bun.BaseModel `bun:"table:neighborhood_actions"`

	ID               int64                  `bun:",pk,autoincrement"`
	ServerID         string                 `bun:",notnull"`
	ActionType       NeighborhoodActionType `bun:",notnull"`
	TargetIdentityID string                 `bun:""`
	Extra            string                 `bun:""`
	Timestamp        time.Time              `bun:",nullzero,notnull,default:current_timestamp"`
	ExecuteAfter     *time.Time             `bun:",nullzero"`
}

// Blocking reports whether this action gates other actions targeting
// the same server until it completes.
func (a *NeighborhoodAction) Blocking() bool {
	return a.ActionType == ActionInitializationInProgress
}

// RelatedIdentityCard is a signed relationship card between two
// identities.
type RelatedIdentityCard struct {
	bun.BaseModel `bun:"table:related_identity_cards"`

	IdentityID    string `bun:",pk"`
	ApplicationID string `bun:",pk"`

	CardID      string `bun:",notnull"`
	CardVersion uint32 `bun:",notnull"`

	IssuerPublicKey    []byte `bun:",notnull"`
	IssuerSignature    []byte `bun:",notnull"`
	RecipientPublicKey []byte `bun:",notnull"`
	RecipientSignature []byte `bun:",notnull"`

	Type string `bun:",notnull"`

	ValidFrom time.Time `bun:",nullzero,notnull"`
	ValidTo   time.Time `bun:",nullzero,notnull"`
}

// Valid reports whether the card's validity window contains now.
func (c *RelatedIdentityCard) Valid(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidTo)
}
