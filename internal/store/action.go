package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// BlockedServers returns the set of server ids currently gated by an
// outstanding InitializationInProgress action whose execute_after is
// still in the future.
func (s *Store) BlockedServers(ctx context.Context) (map[string]bool, error) {
	var actions []NeighborhoodAction
	if err := s.DB.NewSelect().Model(&actions).
		Where("action_type = ?", ActionInitializationInProgress).
		Where("execute_after > ?", time.Now()).
		Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "store: select blocking actions")
	}
	blocked := make(map[string]bool, len(actions))
	for _, a := range actions {
		blocked[a.ServerID] = true
	}
	return blocked, nil
}

// ClaimReadyActions returns up to limit actions that are due
// (execute_after is null or in the past) and not targeting a server
// in blocked, ordered FIFO per server by id. The worker is
// responsible for deleting an action once it has been sent
// successfully.
func (s *Store) ClaimReadyActions(ctx context.Context, blocked map[string]bool, limit int) ([]NeighborhoodAction, error) {
	var candidates []NeighborhoodAction
	now := time.Now()
	if err := s.DB.NewSelect().Model(&candidates).
		Where("action_type <> ?", ActionInitializationInProgress).
		Where("execute_after IS NULL OR execute_after <= ?", now).
		Order("server_id ASC", "id ASC").
		Limit(limit * 4).
		Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "store: claim ready actions")
	}
	out := make([]NeighborhoodAction, 0, limit)
	for _, a := range candidates {
		if blocked[a.ServerID] {
			continue
		}
		out = append(out, a)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeleteAction removes an action after the worker has delivered it.
func (s *Store) DeleteAction(ctx context.Context, id int64) error {
	_, err := s.DB.NewDelete().Model((*NeighborhoodAction)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "store: delete action")
	}
	return nil
}

// DeferAction pushes an action's execute_after forward, used by the
// worker's retry/backoff policy after a delivery attempt fails. It
// does not reorder the action past others targeting the same server
// with a smaller execute_after, per the FIFO-with-defer ordering
// guarantee.
func (s *Store) DeferAction(ctx context.Context, id int64, until time.Time) error {
	_, err := s.DB.NewUpdate().Model((*NeighborhoodAction)(nil)).
		Set("execute_after = ?", until).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "store: defer action")
	}
	return nil
}
