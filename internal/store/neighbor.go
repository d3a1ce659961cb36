package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// GetNeighbor returns a neighbor by id, or ErrNotFound.
func (s *Store) GetNeighbor(ctx context.Context, neighborID string) (*Neighbor, error) {
	n := new(Neighbor)
	err := s.DB.NewSelect().Model(n).Where("neighbor_id = ?", neighborID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get neighbor")
	}
	return n, nil
}

// BumpNeighborRefresh advances last_refresh_at for a neighbor under
// its own row lock, used when a Refresh-tagged item appears in an
// inbound update bundle.
func (s *Store) BumpNeighborRefresh(ctx context.Context, neighborID string) error {
	return s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n := new(Neighbor)
		if err := tx.NewSelect().Model(n).Where("neighbor_id = ?", neighborID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "store: select neighbor for update")
		}
		now := time.Now()
		n.LastRefreshAt = &now
		if _, err := tx.NewUpdate().Model(n).WherePK().Exec(ctx); err != nil {
			return errors.Wrap(err, "store: bump neighbor refresh")
		}
		return nil
	})
}

// GetNeighborIdentity returns one neighbor's cached copy of an
// identity, or ErrNotFound.
func (s *Store) GetNeighborIdentity(ctx context.Context, identityID, neighborID string) (*NeighborIdentity, error) {
	row := new(NeighborIdentity)
	err := s.DB.NewSelect().Model(row).Where("identity_id = ? AND neighbor_id = ?", identityID, neighborID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get neighbor identity")
	}
	return row, nil
}

// NeighborIdentityBatchItem is one apply operation for Pass 2 of
// inbound replication.
type NeighborIdentityBatchItem struct {
	Op         string
	IdentityID string
	NeighborID string
	Apply      func(row *NeighborIdentity) error
	// OldImageRefs receives image refs the item's Apply displaced, so
	// the caller can unlink them after the whole bundle commits.
	OldImageRefs *[]string
}

// ApplyNeighborIdentityBatch applies up to 100 items in one
// transaction under the NeighborIdentity lock, per item Op:
// Add inserts if absent (else ErrAlreadyExists), Change/Delete look
// up an existing row (else ErrNotFound). It stops at the first
// item error and returns its index.
func (s *Store) ApplyNeighborIdentityBatch(ctx context.Context, items []NeighborIdentityBatchItem) (failedIndex int, err error) {
	failedIndex = -1
	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, item := range items {
			switch item.Op {
			case "Add":
				existing := new(NeighborIdentity)
				selErr := tx.NewSelect().Model(existing).
					Where("identity_id = ? AND neighbor_id = ?", item.IdentityID, item.NeighborID).
					For("UPDATE").Scan(ctx)
				if selErr == nil {
					failedIndex = i
					return ErrAlreadyExists
				}
				if !errors.Is(selErr, sql.ErrNoRows) {
					return errors.Wrap(selErr, "store: select neighbor identity for update")
				}
				row := &NeighborIdentity{IdentityID: item.IdentityID, NeighborID: item.NeighborID}
				if err := item.Apply(row); err != nil {
					failedIndex = i
					return err
				}
				if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
					return errors.Wrap(err, "store: insert neighbor identity")
				}
			case "Change", "Delete":
				row := new(NeighborIdentity)
				selErr := tx.NewSelect().Model(row).
					Where("identity_id = ? AND neighbor_id = ?", item.IdentityID, item.NeighborID).
					For("UPDATE").Scan(ctx)
				if errors.Is(selErr, sql.ErrNoRows) {
					failedIndex = i
					return ErrNotFound
				}
				if selErr != nil {
					return errors.Wrap(selErr, "store: select neighbor identity for update")
				}
				if err := item.Apply(row); err != nil {
					failedIndex = i
					return err
				}
				if item.Op == "Delete" {
					if _, err := tx.NewDelete().Model(row).WherePK().Exec(ctx); err != nil {
						return errors.Wrap(err, "store: delete neighbor identity")
					}
				} else {
					if _, err := tx.NewUpdate().Model(row).WherePK().Exec(ctx); err != nil {
						return errors.Wrap(err, "store: update neighbor identity")
					}
				}
			default:
				failedIndex = i
				return errors.Errorf("store: unknown neighbor identity op %q", item.Op)
			}
		}
		return nil
	})
	return failedIndex, err
}

// GetOrCreateNeighbor returns an existing neighbor row, inserting an
// uninitialized one (LastRefreshAt = nil) if absent.
func (s *Store) GetOrCreateNeighbor(ctx context.Context, neighborID string) (*Neighbor, error) {
	n, err := s.GetNeighbor(ctx, neighborID)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	fresh := &Neighbor{NeighborID: neighborID}
	if _, err := s.DB.NewInsert().Model(fresh).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "store: insert neighbor")
	}
	return fresh, nil
}
