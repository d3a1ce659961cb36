package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// CountRelatedIdentityCards returns the number of distinct
// application_ids a hosting identity has registered cards under.
func (s *Store) CountRelatedIdentityCards(ctx context.Context, identityID string) (int, error) {
	count, err := s.DB.NewSelect().Model((*RelatedIdentityCard)(nil)).Where("identity_id = ?", identityID).Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "store: count related identity cards")
	}
	return count, nil
}

// AddRelatedIdentityCard inserts a card, rejecting a duplicate
// application_id for the same identity with ErrAlreadyExists and a
// cap violation with ErrQuotaExceeded. The existence check, quota
// count, and insert all run against the same locked hosted identity
// row (the RelatedIdentityLock in the package's lock order coincides
// with the Host lock already held for the identity), so two
// concurrent calls for the same identity can't both pass the quota
// check or both miss the duplicate.
func (s *Store) AddRelatedIdentityCard(ctx context.Context, card *RelatedIdentityCard, maxCards int) error {
	return s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		owner := new(HostedIdentity)
		if err := tx.NewSelect().Model(owner).Where("identity_id = ?", card.IdentityID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "store: select hosted identity for update")
		}

		existing := new(RelatedIdentityCard)
		err := tx.NewSelect().Model(existing).
			Where("identity_id = ? AND application_id = ?", card.IdentityID, card.ApplicationID).
			Scan(ctx)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(err, "store: check existing related identity card")
		}

		count, err := tx.NewSelect().Model((*RelatedIdentityCard)(nil)).Where("identity_id = ?", card.IdentityID).Count(ctx)
		if err != nil {
			return errors.Wrap(err, "store: count related identity cards")
		}
		if count >= maxCards {
			return ErrQuotaExceeded
		}

		if _, err := tx.NewInsert().Model(card).Exec(ctx); err != nil {
			return errors.Wrap(err, "store: insert related identity card")
		}
		return nil
	})
}

// RemoveRelatedIdentityCard deletes a card by (identity, application)
// pair.
func (s *Store) RemoveRelatedIdentityCard(ctx context.Context, identityID, applicationID string) error {
	res, err := s.DB.NewDelete().Model((*RelatedIdentityCard)(nil)).
		Where("identity_id = ? AND application_id = ?", identityID, applicationID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "store: delete related identity card")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRelatedIdentityCards returns cards for identityID, optionally
// filtered by type and issuer public key hex, and by validity.
func (s *Store) ListRelatedIdentityCards(ctx context.Context, identityID, cardType, issuerHex string, includeInvalid bool) ([]RelatedIdentityCard, error) {
	q := s.DB.NewSelect().Model((*RelatedIdentityCard)(nil)).Where("identity_id = ?", identityID)
	if cardType != "" {
		q = q.Where("type = ?", cardType)
	}
	var cards []RelatedIdentityCard
	if err := q.Order("application_id ASC").Scan(ctx, &cards); err != nil {
		return nil, errors.Wrap(err, "store: list related identity cards")
	}
	if includeInvalid && issuerHex == "" {
		return cards, nil
	}
	out := cards[:0]
	for _, c := range cards {
		if issuerHex != "" && hexEncode(c.IssuerPublicKey) != issuerHex {
			continue
		}
		if !includeInvalid && !c.Valid(nowFunc()) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
