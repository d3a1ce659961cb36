package replication

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// StartNeighborhoodInitialization admits a new follower and hands off
// the snapshot stream to a background goroutine. The handler itself
// only performs admission and replies; the goroutine owns the rest of
// the conversation on this session.
func (h *Handlers) StartNeighborhoodInitialization(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.StartNeighborhoodInitializationRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed StartNeighborhoodInitializationRequest")
	}
	if sess.Status() < session.StatusVerified {
		return protoerr.Fail(protoerr.BadConversationStatus, sess.Status().String())
	}

	followerID := sess.IdentityID.String()
	follower, snapshot, err := h.Store.BeginFollowerInitialization(ctx, followerID, remoteIP(sess),
		body.PrimaryPort, body.ServerNeighborPort,
		h.Config.MaxFollowerServersCount, h.Config.NeighborhoodInitializationParallelism, h.Config.NeighborhoodInitTimeout)
	if errors.Is(err, store.ErrRejected) {
		return protoerr.Fail(protoerr.Rejected, "follower capacity reached")
	}
	if errors.Is(err, store.ErrBusy) {
		return protoerr.Fail(protoerr.Busy, "too many initializations in flight")
	}
	if err != nil {
		obslog.L().Errorw("start neighborhood initialization: admit follower", "err", err)
		return protoerr.InternalError()
	}

	go h.streamInitialization(sess, follower.FollowerID, snapshot)

	return protoerr.OK(wire.StartNeighborhoodInitializationResponse{})
}

func remoteIP(sess *session.Session) string {
	if sess.RemoteEndpoint == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(sess.RemoteEndpoint.String())
	if err != nil {
		return sess.RemoteEndpoint.String()
	}
	return host
}

// streamInitialization pushes the follower's admitted snapshot as
// batched NeighborhoodSharedProfileUpdateRequests, in lockstep --
// each batch's OK is awaited before the next is sent -- followed by
// FinishNeighborhoodInitializationRequest. Any rejection or timeout
// aborts by removing the follower row; the blocking action is deleted
// along with it, so a retry can start clean.
func (h *Handlers) streamInitialization(sess *session.Session, followerID string, snapshot []store.HostedIdentity) {
	ctx := context.Background()

	items := make([]wire.NeighborhoodUpdateItem, 0, len(snapshot))
	for i := range snapshot {
		items = append(items, h.snapshotToAddItem(&snapshot[i]))
	}

	for _, batch := range packBatches(items, wire.MaxFrameSize-wire.SafetyMargin) {
		resp, err := h.sendAndAwait(sess, wire.KindNeighborhoodSharedProfileUpdate, wire.NeighborhoodSharedProfileUpdateRequest{Items: batch})
		if err != nil || resp.Status != protoerr.Ok {
			obslog.L().Warnw("neighborhood initialization: batch rejected, aborting", "follower", followerID, "err", err)
			h.abortInitialization(ctx, followerID)
			return
		}
	}

	resp, err := h.sendAndAwait(sess, wire.KindFinishNeighborhoodInitialization, wire.FinishNeighborhoodInitializationRequest{})
	if err != nil || resp.Status != protoerr.Ok {
		obslog.L().Warnw("neighborhood initialization: finish rejected, aborting", "follower", followerID, "err", err)
		h.abortInitialization(ctx, followerID)
		return
	}

	if err := h.Store.FinishFollowerInitialization(ctx, followerID); err != nil {
		obslog.L().Errorw("neighborhood initialization: finish follower", "follower", followerID, "err", err)
	}
}

func (h *Handlers) abortInitialization(ctx context.Context, followerID string) {
	if err := h.Store.RemoveFollower(ctx, followerID); err != nil {
		obslog.L().Errorw("neighborhood initialization: remove follower after abort", "follower", followerID, "err", err)
	}
}

// sendAndAwait sends a server-initiated request over sess and blocks
// until its response arrives or the initialization timeout elapses.
func (h *Handlers) sendAndAwait(sess *session.Session, kind wire.RequestKind, body any) (*wire.Response, error) {
	id := sess.NextMessageID()
	msg, err := wire.NewRequest(id, true, kind, body)
	if err != nil {
		return nil, errors.Wrap(err, "replication: build request")
	}

	replyCh := make(chan *wire.Response, 1)
	sess.TrackResponseCallback(id, kind, true, func(resp *wire.Response) {
		replyCh <- resp
	})

	if err := sess.Send(msg); err != nil {
		sess.PopResponseCallback(id)
		return nil, errors.Wrap(err, "replication: send")
	}

	select {
	case resp := <-replyCh:
		return resp, nil
	case <-time.After(h.Config.NeighborhoodInitTimeout):
		sess.PopResponseCallback(id)
		return nil, errors.New("replication: acknowledgement timed out")
	}
}

func (h *Handlers) snapshotToAddItem(row *store.HostedIdentity) wire.NeighborhoodUpdateItem {
	item := wire.NeighborhoodUpdateItem{
		Op:           wire.NeighborhoodOpAdd,
		IdentityID:   row.IdentityID,
		PublicKey:    row.PublicKey,
		Version:      row.Semver,
		SetName:      true,
		Name:         row.Name,
		SetType:      true,
		Type:         row.Type,
		SetLocation:  true,
		Lat:          row.Lat,
		Lon:          row.Lon,
		SetExtraData: true,
		ExtraData:    row.ExtraData,
	}
	if row.ProfileImageRef != "" {
		if data := h.readBlob(row.ProfileImageRef); data != nil {
			item.SetImage = true
			item.ImageData = data
		}
	}
	if row.ThumbnailImageRef != "" {
		if data := h.readBlob(row.ThumbnailImageRef); data != nil {
			item.SetThumbnail = true
			item.ThumbnailData = data
		}
	}
	return item
}

func (h *Handlers) readBlob(ref string) []byte {
	data, err := h.Blobs.Read(context.Background(), ref)
	if err != nil {
		obslog.L().Warnw("neighborhood initialization: read image blob", "ref", ref, "err", err)
		return nil
	}
	return data
}
