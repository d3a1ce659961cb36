package replication

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

const applyBatchSize = 100

// stagedItem is one validated update item together with the blob ids
// its images were staged under during Pass 1.
type stagedItem struct {
	item    wire.NeighborhoodUpdateItem
	imageID string
	thumbID string
}

// NeighborhoodSharedProfileUpdate applies an inbound update bundle
// through a two-pass validate-then-apply algorithm. It is legal on
// any ServerNeighbor session that is either mid-bootstrap (this
// server called StartNeighborhoodInitialization on this very
// connection) or already an initialized Neighbor of the sender --
// ordinary steady-state traffic from a neighbor that never completed
// initialization is a protocol violation.
func (h *Handlers) NeighborhoodSharedProfileUpdate(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.NeighborhoodSharedProfileUpdateRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed NeighborhoodSharedProfileUpdateRequest")
	}

	senderID := sess.IdentityID.String()
	if !sess.IsNeighborhoodInitInProgress() {
		neighbor, err := h.Store.GetNeighbor(ctx, senderID)
		if err != nil || !neighbor.Initialized() {
			return protoerr.FailClose(protoerr.BadConversationStatus, "sender is not an initialized neighbor")
		}
	}

	staged, allImageIDs, refreshNeeded, failField, failIndex := h.validateAndStage(body.Items)

	if refreshNeeded {
		if err := h.Store.BumpNeighborRefresh(ctx, senderID); err != nil {
			obslog.L().Warnw("neighborhood update: bump refresh", "neighbor", senderID, "err", err)
		}
	}

	appliedOK, oldRefs, applyFailIndex, applyErr := h.applyStaged(ctx, senderID, staged)

	kept := make(map[string]bool, len(allImageIDs))
	for i := 0; i < appliedOK && i < len(staged); i++ {
		if staged[i].imageID != "" {
			kept[staged[i].imageID] = true
		}
		if staged[i].thumbID != "" {
			kept[staged[i].thumbID] = true
		}
	}
	for _, id := range allImageIDs {
		if !kept[id] {
			if err := h.Blobs.Unlink(id); err != nil {
				obslog.L().Warnw("neighborhood update: unlink orphaned image", "id", id, "err", err)
			}
		}
	}
	for _, id := range oldRefs {
		if err := h.Blobs.Unlink(id); err != nil {
			obslog.L().Warnw("neighborhood update: unlink displaced image", "id", id, "err", err)
		}
	}

	if failIndex >= 0 {
		return protoerr.Fail(protoerr.InvalidValue, fmt.Sprintf("%d.%s.%s", failIndex, staged0Op(body.Items, failIndex), failField))
	}
	if applyFailIndex >= 0 {
		op := staged0Op(body.Items, applyFailIndex)
		return protoerr.Fail(protoerr.InvalidValue, fmt.Sprintf("%d.%s.%s", applyFailIndex, op, applyErrorField(op, applyErr)))
	}
	return protoerr.OK(wire.NeighborhoodSharedProfileUpdateResponse{})
}

// applyErrorField names the offending field for an apply-time failure
// per spec.md §4.8's convention: a duplicate Add names the identity's
// public key field, a Change/Delete against a row that doesn't exist
// names the identity's network id.
func applyErrorField(op string, err error) string {
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return "identityPublicKey"
	case errors.Is(err, store.ErrNotFound):
		return "identityNetworkId"
	default:
		return "apply"
	}
}

func staged0Op(items []wire.NeighborhoodUpdateItem, idx int) string {
	if idx < 0 || idx >= len(items) {
		return "unknown"
	}
	switch items[idx].Op {
	case wire.NeighborhoodOpAdd:
		return "add"
	case wire.NeighborhoodOpChange:
		return "change"
	case wire.NeighborhoodOpDelete:
		return "delete"
	default:
		return "refresh"
	}
}

// validateAndStage is Pass 1: it validates items in order, writing
// every referenced image to disk as it goes, and stops at the first
// invalid item -- items after it are dropped entirely, never staged.
func (h *Handlers) validateAndStage(items []wire.NeighborhoodUpdateItem) (staged []stagedItem, allImageIDs []string, refreshNeeded bool, failField string, failIndex int) {
	failIndex = -1
	for i, item := range items {
		if field, ok := validateItem(item); !ok {
			failField = field
			failIndex = i
			break
		}
		if item.Refresh {
			refreshNeeded = true
		}

		s := stagedItem{item: item}
		if item.SetImage {
			id, err := h.Blobs.Write(context.Background(), item.ImageData)
			if err != nil {
				obslog.L().Errorw("neighborhood update: stage image", "err", err)
				failField, failIndex = "image", i
				break
			}
			s.imageID = id
			allImageIDs = append(allImageIDs, id)
		}
		if item.SetThumbnail {
			id, err := h.Blobs.Write(context.Background(), item.ThumbnailData)
			if err != nil {
				obslog.L().Errorw("neighborhood update: stage thumbnail", "err", err)
				failField, failIndex = "thumbnail", i
				break
			}
			s.thumbID = id
			allImageIDs = append(allImageIDs, id)
		}
		staged = append(staged, s)
	}
	return staged, allImageIDs, refreshNeeded, failField, failIndex
}

// applyStaged is Pass 2: it applies staged in batches of up to
// applyBatchSize, stopping at the first batch that fails. Each batch
// runs in its own transaction (ApplyNeighborIdentityBatch), so a
// failure partway through a batch rolls the whole batch back --
// including the tx statements already issued for items before the
// failure. The Apply closures' bookkeeping of displaced image refs is
// plain Go slice appends, though, and isn't itself undone by that
// rollback, so it is buffered per-batch and only folded into the
// returned oldRefs once the batch's transaction is known to have
// committed. Likewise a batch that fails contributes nothing to
// appliedOK, not even the items before the failing one, since none of
// them actually persisted. It returns how many leading staged items
// ended up applied, the old image ids displaced by Change/Delete items
// for post-commit unlinking, and -- if a batch failed -- the index
// into staged (equivalently, into the original update bundle, since
// Pass 1 never reorders or compacts) of the item that triggered it,
// along with the store error that named it, so the caller can report
// spec.md §4.8's per-op/per-field detail string instead of a generic
// "applied fewer than requested" summary.
func (h *Handlers) applyStaged(ctx context.Context, senderID string, staged []stagedItem) (appliedOK int, oldRefs []string, failIndex int, failErr error) {
	failIndex = -1
	for start := 0; start < len(staged); start += applyBatchSize {
		end := start + applyBatchSize
		if end > len(staged) {
			end = len(staged)
		}
		batch := staged[start:end]

		var batchOldRefs []string
		items := make([]store.NeighborIdentityBatchItem, len(batch))
		for i, s := range batch {
			items[i] = h.batchItem(senderID, s, &batchOldRefs)
		}

		if batchFailIndex, err := h.Store.ApplyNeighborIdentityBatch(ctx, items); err != nil {
			obslog.L().Warnw("neighborhood update: apply batch", "neighbor", senderID, "err", err)
			failErr = err
			if batchFailIndex >= 0 {
				failIndex = start + batchFailIndex
			} else {
				failIndex = start
			}
			return appliedOK, oldRefs, failIndex, failErr
		}
		appliedOK += len(batch)
		oldRefs = append(oldRefs, batchOldRefs...)
	}
	return appliedOK, oldRefs, -1, nil
}

func (h *Handlers) batchItem(senderID string, s stagedItem, oldRefs *[]string) store.NeighborIdentityBatchItem {
	item := s.item
	return store.NeighborIdentityBatchItem{
		Op:           string(item.Op),
		IdentityID:   item.IdentityID,
		NeighborID:   senderID,
		OldImageRefs: oldRefs,
		Apply: func(row *store.NeighborIdentity) error {
			if item.Op == wire.NeighborhoodOpDelete {
				if row.ProfileImageRef != "" {
					*oldRefs = append(*oldRefs, row.ProfileImageRef)
				}
				if row.ThumbnailImageRef != "" {
					*oldRefs = append(*oldRefs, row.ThumbnailImageRef)
				}
				return nil
			}
			if item.Op == wire.NeighborhoodOpAdd {
				row.PublicKey = item.PublicKey
				row.HostingServerID = senderID
			}
			if item.Version != "" {
				row.Semver = item.Version
			}
			if item.SetName {
				row.Name = item.Name
			}
			if item.SetType {
				row.Type = item.Type
			}
			if item.SetLocation {
				row.Lat = item.Lat
				row.Lon = item.Lon
			}
			if item.SetExtraData {
				row.ExtraData = item.ExtraData
			}
			if item.SetImage {
				if row.ProfileImageRef != "" {
					*oldRefs = append(*oldRefs, row.ProfileImageRef)
				}
				row.ProfileImageRef = s.imageID
			}
			if item.SetThumbnail {
				if row.ThumbnailImageRef != "" {
					*oldRefs = append(*oldRefs, row.ThumbnailImageRef)
				}
				row.ThumbnailImageRef = s.thumbID
			}
			return nil
		},
	}
}

// FinishNeighborhoodInitialization marks the sender initialized from
// this server's perspective (we are its follower on this
// connection), acking the source's final handshake message.
func (h *Handlers) FinishNeighborhoodInitialization(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.FinishNeighborhoodInitializationRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed FinishNeighborhoodInitializationRequest")
	}

	neighborID := sess.IdentityID.String()
	if _, err := h.Store.GetOrCreateNeighbor(ctx, neighborID); err != nil {
		obslog.L().Errorw("finish neighborhood initialization: get or create neighbor", "err", err)
		return protoerr.InternalError()
	}
	if err := h.Store.BumpNeighborRefresh(ctx, neighborID); err != nil {
		obslog.L().Errorw("finish neighborhood initialization: bump refresh", "err", err)
		return protoerr.InternalError()
	}
	sess.EndNeighborhoodInit()
	return protoerr.OK(wire.FinishNeighborhoodInitializationResponse{})
}
