package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// BeginFollowerInitialization admits a new follower for outbound
// replication: it snapshots the initialized, non-expired hosted
// identities, inserts the Follower row with LastRefreshAt = nil, and
// inserts a blocking InitializationInProgress action, all in one
// transaction, gated by the follower-count and in-flight-parallelism
// caps.
func (s *Store) BeginFollowerInitialization(ctx context.Context, followerID, ip string, primaryPort, neighborPort uint16, maxFollowers, parallelism int, initTimeout time.Duration) (*Follower, []HostedIdentity, error) {
	var follower *Follower
	var snapshot []HostedIdentity
	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(&snapshot).
			Where("semver <> ?", InvalidSemver).
			Where("expiration_at IS NULL").
			Order("identity_id ASC").
			For("UPDATE").
			Scan(ctx); err != nil {
			return errors.Wrap(err, "store: snapshot hosted identities")
		}

		followerCount, err := tx.NewSelect().Model((*Follower)(nil)).Count(ctx)
		if err != nil {
			return errors.Wrap(err, "store: count followers")
		}
		if followerCount >= maxFollowers {
			return ErrRejected
		}

		inFlight, err := tx.NewSelect().Model((*Follower)(nil)).Where("last_refresh_at IS NULL").Count(ctx)
		if err != nil {
			return errors.Wrap(err, "store: count in-flight initializations")
		}
		if inFlight >= parallelism {
			return ErrBusy
		}

		f := &Follower{
			FollowerID:   followerID,
			IP:           ip,
			PrimaryPort:  primaryPort,
			NeighborPort: neighborPort,
		}
		if _, err := tx.NewInsert().Model(f).Exec(ctx); err != nil {
			return errors.Wrap(err, "store: insert follower")
		}

		executeAfter := time.Now().Add(initTimeout)
		action := &NeighborhoodAction{
			ServerID:     followerID,
			ActionType:   ActionInitializationInProgress,
			ExecuteAfter: &executeAfter,
			Timestamp:    time.Now(),
		}
		if _, err := tx.NewInsert().Model(action).Exec(ctx); err != nil {
			return errors.Wrap(err, "store: insert blocking action")
		}

		follower = f
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return follower, snapshot, nil
}

// FinishFollowerInitialization marks a follower initialized and bumps
// its blocking action's execute_after backward so the replication
// worker can resume sending it ordinary updates.
func (s *Store) FinishFollowerInitialization(ctx context.Context, followerID string) error {
	return s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		f := new(Follower)
		if err := tx.NewSelect().Model(f).Where("follower_id = ?", followerID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "store: select follower for update")
		}
		f.LastRefreshAt = &now
		if _, err := tx.NewUpdate().Model(f).WherePK().Exec(ctx); err != nil {
			return errors.Wrap(err, "store: update follower")
		}
		if _, err := tx.NewUpdate().Model((*NeighborhoodAction)(nil)).
			Set("execute_after = ?", now).
			Where("server_id = ? AND action_type = ?", followerID, ActionInitializationInProgress).
			Exec(ctx); err != nil {
			return errors.Wrap(err, "store: unblock follower actions")
		}
		return nil
	})
}

// RemoveFollower deletes a follower row and its outstanding actions,
// used both by explicit cancellation and by session-disconnect
// cleanup on a mid-init failure.
func (s *Store) RemoveFollower(ctx context.Context, followerID string) error {
	return s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Follower)(nil)).Where("follower_id = ?", followerID).Exec(ctx); err != nil {
			return errors.Wrap(err, "store: delete follower")
		}
		if _, err := tx.NewDelete().Model((*NeighborhoodAction)(nil)).Where("server_id = ?", followerID).Exec(ctx); err != nil {
			return errors.Wrap(err, "store: delete follower actions")
		}
		return nil
	})
}

// CountFollowers returns the total number of followers, initialized
// or not.
func (s *Store) CountFollowers(ctx context.Context) (int, error) {
	count, err := s.DB.NewSelect().Model((*Follower)(nil)).Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "store: count followers")
	}
	return count, nil
}

// GetFollower returns a follower by id, or ErrNotFound.
func (s *Store) GetFollower(ctx context.Context, followerID string) (*Follower, error) {
	f := new(Follower)
	err := s.DB.NewSelect().Model(f).Where("follower_id = ?", followerID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get follower")
	}
	return f, nil
}
