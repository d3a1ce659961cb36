package replication

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"profileserver/internal/blobstore"
	"profileserver/internal/config"
	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// Worker drains the store's neighborhood action queue toward each
// follower: walk a set of destinations, build a payload per
// destination, tolerate one destination's failure without aborting
// the others. Retry uses simple exponential backoff tracked in memory
// per follower; a process restart resets it to the base delay, which
// is an accepted trade-off since the store only records the next
// execute_after, not an attempt count.
type Worker struct {
	Store      *store.Store
	Blobs      *blobstore.Store
	Config     *config.Config
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey

	attempts map[string]int
}

// NewWorker builds a Worker bound to its collaborators and this
// server's own long-term keypair, used to authenticate its outbound
// pushes to followers.
func NewWorker(st *store.Store, blobs *blobstore.Store, cfg *config.Config, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Worker {
	return &Worker{Store: st, Blobs: blobs, Config: cfg, PublicKey: pub, PrivateKey: priv, attempts: make(map[string]int)}
}

// Run polls for ready actions until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Config.WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	blocked, err := w.Store.BlockedServers(ctx)
	if err != nil {
		obslog.L().Errorw("replication worker: list blocked servers", "err", err)
		return
	}

	actions, err := w.Store.ClaimReadyActions(ctx, blocked, w.Config.WorkerBatchLimit)
	if err != nil {
		obslog.L().Errorw("replication worker: claim ready actions", "err", err)
		return
	}
	if len(actions) == 0 {
		return
	}

	byFollower := make(map[string][]store.NeighborhoodAction)
	for _, a := range actions {
		byFollower[a.ServerID] = append(byFollower[a.ServerID], a)
	}
	for followerID, group := range byFollower {
		w.deliver(ctx, followerID, group)
	}
}

func (w *Worker) deliver(ctx context.Context, followerID string, actions []store.NeighborhoodAction) {
	follower, err := w.Store.GetFollower(ctx, followerID)
	if err != nil {
		obslog.L().Warnw("replication worker: unknown follower, dropping actions", "follower", followerID, "err", err)
		for _, a := range actions {
			_ = w.Store.DeleteAction(ctx, a.ID)
		}
		return
	}

	items := make([]wire.NeighborhoodUpdateItem, 0, len(actions))
	for _, a := range actions {
		item, ok := w.actionToItem(ctx, a)
		if !ok {
			_ = w.Store.DeleteAction(ctx, a.ID)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return
	}

	addr := fmt.Sprintf("%s:%d", follower.IP, follower.NeighborPort)
	if err := w.push(addr, items); err != nil {
		obslog.L().Warnw("replication worker: push failed, backing off", "follower", followerID, "addr", addr, "err", err)
		w.backoff(ctx, followerID, actions)
		return
	}

	w.attempts[followerID] = 0
	for _, a := range actions {
		if err := w.Store.DeleteAction(ctx, a.ID); err != nil {
			obslog.L().Errorw("replication worker: delete delivered action", "id", a.ID, "err", err)
		}
	}
}

func (w *Worker) actionToItem(ctx context.Context, a store.NeighborhoodAction) (wire.NeighborhoodUpdateItem, bool) {
	switch a.ActionType {
	case store.ActionRemoveProfile:
		return wire.NeighborhoodUpdateItem{Op: wire.NeighborhoodOpDelete, IdentityID: a.TargetIdentityID}, true
	case store.ActionAddProfile, store.ActionChangeProfile:
		row, err := w.Store.GetHostedIdentity(ctx, a.TargetIdentityID)
		if err != nil {
			obslog.L().Warnw("replication worker: source identity vanished, dropping action", "identity", a.TargetIdentityID, "err", err)
			return wire.NeighborhoodUpdateItem{}, false
		}
		op := wire.NeighborhoodOpAdd
		if a.ActionType == store.ActionChangeProfile {
			op = wire.NeighborhoodOpChange
		}
		item := wire.NeighborhoodUpdateItem{
			Op: op, IdentityID: row.IdentityID, PublicKey: row.PublicKey, Version: row.Semver,
			SetName: true, Name: row.Name,
			SetType: true, Type: row.Type,
			SetLocation: true, Lat: row.Lat, Lon: row.Lon,
			SetExtraData: true, ExtraData: row.ExtraData,
		}
		if row.ProfileImageRef != "" {
			if data, err := w.Blobs.Read(ctx, row.ProfileImageRef); err == nil {
				item.SetImage, item.ImageData = true, data
			}
		}
		if row.ThumbnailImageRef != "" {
			if data, err := w.Blobs.Read(ctx, row.ThumbnailImageRef); err == nil {
				item.SetThumbnail, item.ThumbnailData = true, data
			}
		}
		return item, true
	default:
		return wire.NeighborhoodUpdateItem{}, false
	}
}

func (w *Worker) push(addr string, items []wire.NeighborhoodUpdateItem) error {
	c, err := dialAndAuthenticate(addr, w.Config.WorkerDialTimeout, w.Config.NeighborTLSInsecureSkipVerify, w.PublicKey, w.PrivateKey)
	if err != nil {
		return err
	}
	defer c.close()

	for _, batch := range packBatches(items, wire.MaxFrameSize-wire.SafetyMargin) {
		resp, err := c.roundTrip(true, wire.KindNeighborhoodSharedProfileUpdate, wire.NeighborhoodSharedProfileUpdateRequest{Items: batch})
		if err != nil {
			return err
		}
		if resp.Status != protoerr.Ok {
			return fmt.Errorf("replication: follower rejected update batch: %s %s", resp.Status, resp.Details)
		}
	}
	return nil
}

func (w *Worker) backoff(ctx context.Context, followerID string, actions []store.NeighborhoodAction) {
	n := w.attempts[followerID]
	delay := backoffDelay(w.Config.WorkerRetryBaseDelay, w.Config.WorkerRetryMaxDelay, n)
	if delay < w.Config.WorkerRetryMaxDelay {
		w.attempts[followerID] = n + 1
	}
	until := time.Now().Add(delay)
	for _, a := range actions {
		if err := w.Store.DeferAction(ctx, a.ID, until); err != nil {
			obslog.L().Errorw("replication worker: defer action after failed push", "id", a.ID, "err", err)
		}
	}
}

// backoffDelay doubles base per attempt, capped at max. attempt is
// clamped so the shift never overflows a time.Duration.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt > 32 {
		attempt = 32
	}
	delay := base << attempt
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
