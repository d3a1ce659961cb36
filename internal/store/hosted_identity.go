package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// GetHostedIdentity returns the hosted identity for identityID, or
// ErrNotFound.
func (s *Store) GetHostedIdentity(ctx context.Context, identityID string) (*HostedIdentity, error) {
	h := new(HostedIdentity)
	err := s.DB.NewSelect().Model(h).Where("identity_id = ?", identityID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get hosted identity")
	}
	return h, nil
}

// CountHostedIdentities returns the number of non-expired hosted
// identities.
func (s *Store) CountHostedIdentities(ctx context.Context) (int, error) {
	count, err := s.DB.NewSelect().Model((*HostedIdentity)(nil)).Where("expiration_at IS NULL").Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "store: count hosted identities")
	}
	return count, nil
}

// RegisterHosting creates a fresh hosted identity, or reactivates one
// whose hosting agreement was previously cancelled with a redirect.
// The current count is checked inside the same transaction that would
// insert, so the quota can never be raced past.
func (s *Store) RegisterHosting(ctx context.Context, identityID string, publicKey []byte, maxHosted int) (h *HostedIdentity, reactivated bool, err error) {
	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(HostedIdentity)
		selErr := tx.NewSelect().Model(existing).Where("identity_id = ?", identityID).For("UPDATE").Scan(ctx)
		switch {
		case selErr == nil:
			if existing.ExpirationAt == nil {
				return ErrAlreadyExists
			}
			existing.ExpirationAt = nil
			existing.PublicKey = publicKey
			existing.UpdatedAt = time.Now()
			if _, uerr := tx.NewUpdate().Model(existing).WherePK().Exec(ctx); uerr != nil {
				return errors.Wrap(uerr, "store: reactivate hosted identity")
			}
			h = existing
			reactivated = true
			return nil
		case errors.Is(selErr, sql.ErrNoRows):
			count, cerr := tx.NewSelect().Model((*HostedIdentity)(nil)).Where("expiration_at IS NULL").Count(ctx)
			if cerr != nil {
				return errors.Wrap(cerr, "store: count hosted identities")
			}
			if count >= maxHosted {
				return ErrQuotaExceeded
			}
			fresh := &HostedIdentity{
				IdentityID: identityID,
				PublicKey:  publicKey,
				Semver:     InvalidSemver,
			}
			if _, ierr := tx.NewInsert().Model(fresh).Exec(ctx); ierr != nil {
				return errors.Wrap(ierr, "store: insert hosted identity")
			}
			h = fresh
			return nil
		default:
			return errors.Wrap(selErr, "store: select hosted identity for update")
		}
	})
	if err != nil {
		return nil, false, err
	}
	return h, reactivated, nil
}

// UpdateProfileMutator mutates a locked hosted identity row in place;
// it returns an error to abort the enclosing transaction.
type UpdateProfileMutator func(h *HostedIdentity) error

// UpdateProfileAndQueueActions locks the hosted identity, applies
// mutate, and inserts one NeighborhoodAction per initialized follower
// so the replication worker picks up the change. Lock order:
// HostedIdentity, then Follower, then NeighborhoodAction.
func (s *Store) UpdateProfileAndQueueActions(ctx context.Context, identityID string, mutate UpdateProfileMutator, actionType NeighborhoodActionType) (*HostedIdentity, error) {
	var updated *HostedIdentity
	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		h := new(HostedIdentity)
		if err := tx.NewSelect().Model(h).Where("identity_id = ?", identityID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "store: select hosted identity for update")
		}
		if err := mutate(h); err != nil {
			return err
		}
		h.UpdatedAt = time.Now()
		if _, err := tx.NewUpdate().Model(h).WherePK().Exec(ctx); err != nil {
			return errors.Wrap(err, "store: update hosted identity")
		}

		var followers []Follower
		if err := tx.NewSelect().Model(&followers).
			Where("last_refresh_at IS NOT NULL").
			Order("follower_id ASC").
			For("UPDATE").
			Scan(ctx); err != nil {
			return errors.Wrap(err, "store: select followers for update")
		}
		now := time.Now()
		for _, f := range followers {
			action := &NeighborhoodAction{
				ServerID:         f.FollowerID,
				ActionType:       actionType,
				TargetIdentityID: identityID,
				Timestamp:        now,
			}
			if _, err := tx.NewInsert().Model(action).Exec(ctx); err != nil {
				return errors.Wrap(err, "store: insert neighborhood action")
			}
		}
		updated = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelHostingAgreement expires a hosted identity (immediately, or
// after retention if a redirect target is set) and queues a
// RemoveProfile action per initialized follower. uninitializedVersion
// is stamped onto a profile that was never initialized, so a
// redirected lookup still returns something structured (spec.md
// §4.4); the caller passes its own negotiated-version constant rather
// than this package duplicating it.
func (s *Store) CancelHostingAgreement(ctx context.Context, identityID, redirectIdentityID string, retention time.Duration, uninitializedVersion string) (*HostedIdentity, error) {
	var updated *HostedIdentity
	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		h := new(HostedIdentity)
		if err := tx.NewSelect().Model(h).Where("identity_id = ?", identityID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "store: select hosted identity for update")
		}
		now := time.Now()
		if !h.Initialized() {
			h.Semver = uninitializedVersion
		}
		if redirectIdentityID != "" {
			exp := now.Add(retention)
			h.ExpirationAt = &exp
			h.HostingRedirectID = redirectIdentityID
		} else {
			h.ExpirationAt = &now
		}
		h.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(h).WherePK().Exec(ctx); err != nil {
			return errors.Wrap(err, "store: update hosted identity")
		}

		var followers []Follower
		if err := tx.NewSelect().Model(&followers).
			Where("last_refresh_at IS NOT NULL").
			Order("follower_id ASC").
			For("UPDATE").
			Scan(ctx); err != nil {
			return errors.Wrap(err, "store: select followers for update")
		}
		for _, f := range followers {
			action := &NeighborhoodAction{
				ServerID:         f.FollowerID,
				ActionType:       ActionRemoveProfile,
				TargetIdentityID: identityID,
				Timestamp:        now,
			}
			if _, err := tx.NewInsert().Model(action).Exec(ctx); err != nil {
				return errors.Wrap(err, "store: insert neighborhood action")
			}
		}
		updated = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SearchHostedIdentities performs the SQL-level filtering pass of
// profile search: wildcard name/type and an optional bounding box,
// paged by offset/limit. Haversine and regex filtering happen in
// internal/search over the returned rows.
func (s *Store) SearchHostedIdentities(ctx context.Context, nameWildcard, typeWildcard string, minLat, maxLat, minLon, maxLon float64, hasBBox bool, offset, limit int) ([]HostedIdentity, error) {
	q := s.DB.NewSelect().Model((*HostedIdentity)(nil)).
		Where("expiration_at IS NULL").
		Where("semver <> ?", InvalidSemver)
	if nameWildcard != "" {
		q = q.Where("name ILIKE ?", nameWildcard)
	}
	if typeWildcard != "" {
		q = q.Where("type ILIKE ?", typeWildcard)
	}
	if hasBBox {
		q = q.Where("lat BETWEEN ? AND ?", minLat, maxLat).Where("lon BETWEEN ? AND ?", minLon, maxLon)
	}
	var rows []HostedIdentity
	if err := q.Order("identity_id ASC").Offset(offset).Limit(limit).Scan(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "store: search hosted identities")
	}
	return rows, nil
}

// SearchNeighborIdentities is SearchHostedIdentities' counterpart over
// replicated neighbor identities, used once a search has exhausted the
// hosted repository and IncludeHostedOnly was not set.
func (s *Store) SearchNeighborIdentities(ctx context.Context, nameWildcard, typeWildcard string, minLat, maxLat, minLon, maxLon float64, hasBBox bool, offset, limit int) ([]NeighborIdentity, error) {
	q := s.DB.NewSelect().Model((*NeighborIdentity)(nil)).
		Where("semver <> ?", InvalidSemver)
	if nameWildcard != "" {
		q = q.Where("name ILIKE ?", nameWildcard)
	}
	if typeWildcard != "" {
		q = q.Where("type ILIKE ?", typeWildcard)
	}
	if hasBBox {
		q = q.Where("lat BETWEEN ? AND ?", minLat, maxLat).Where("lon BETWEEN ? AND ?", minLon, maxLon)
	}
	var rows []NeighborIdentity
	if err := q.Order("identity_id ASC, neighbor_id ASC").Offset(offset).Limit(limit).Scan(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "store: search neighbor identities")
	}
	return rows, nil
}

// DistinctNeighborIDs returns every neighbor id currently replicated,
// used to compute a search response's covered_nodes list.
func (s *Store) DistinctNeighborIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.DB.NewSelect().Model((*Neighbor)(nil)).Column("neighbor_id").Scan(ctx, &ids); err != nil {
		return nil, errors.Wrap(err, "store: list neighbor ids")
	}
	return ids, nil
}
