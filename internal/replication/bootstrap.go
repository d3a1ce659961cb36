package replication

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/pkg/errors"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

// ErrUnidentifiedNeighbor is returned by Bootstrap when the remote
// side never proved a signed identity during the handshake, so there
// is no key to file the resulting Neighbor row under.
var ErrUnidentifiedNeighbor = errors.New("replication: remote server did not present a verifiable identity")

// Bootstrap makes this server a follower of the server at addr: it
// dials in, requests initialization, and then serves the resulting
// stream of NeighborhoodSharedProfileUpdateRequest/
// FinishNeighborhoodInitializationRequest messages the far side
// pushes back over that same connection, mirroring what an admitting
// server does for its own followers. Since this connection was dialed
// rather than accepted, there is no dispatch.Table or connHandler
// driving it -- Bootstrap runs its own minimal read loop and calls
// straight into h.NeighborhoodSharedProfileUpdate/
// h.FinishNeighborhoodInitialization, the same handlers a real
// listener would invoke.
func (h *Handlers) Bootstrap(ctx context.Context, addr string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	c, err := dialAndAuthenticate(addr, h.Config.WorkerDialTimeout, h.Config.NeighborTLSInsecureSkipVerify, pub, priv)
	if err != nil {
		return err
	}
	defer c.close()

	var zero [32]byte
	if [32]byte(c.RemoteIdentity) == zero {
		return ErrUnidentifiedNeighbor
	}

	startResp, err := c.roundTrip(true, wire.KindStartNeighborhoodInitialization, wire.StartNeighborhoodInitializationRequest{
		PrimaryPort:        h.Config.PrimaryPort,
		ServerNeighborPort: h.Config.ServerNeighborPort,
	})
	if err != nil {
		return err
	}
	if startResp.Status != protoerr.Ok {
		return errors.Errorf("replication: bootstrap rejected: %s %s", startResp.Status, startResp.Details)
	}

	sess := session.New(session.RoleServerNeighbor, c.conn.RemoteAddr())
	sess.BeginNeighborhoodInit()
	// The connection was authenticated by signature, not by the usual
	// StartConversation/VerifyIdentity status climb on this local
	// object, so IdentityID is set directly from the verified remote
	// key rather than through sess.Start.
	sess.IdentityID = c.RemoteIdentity

	deadline := time.Now().Add(h.Config.NeighborhoodInitTimeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return errors.Wrap(err, "replication: set read deadline")
		}
		frame, err := wire.ReadFrame(c.conn)
		if err != nil {
			return errors.Wrap(err, "replication: bootstrap stream read")
		}
		msg, err := wire.DecodeMessage(frame)
		if err != nil {
			return err
		}
		if msg.Request == nil {
			return errors.New("replication: expected a server-initiated request during bootstrap")
		}

		result := h.dispatchBootstrapRequest(ctx, sess, msg.Request)

		reply, err := wire.NewResponse(msg.Request.ID, msg.Request.Conversation, msg.Request.Kind, result.Status, result.Details, result.Body)
		if err != nil {
			return errors.Wrap(err, "replication: build bootstrap reply")
		}
		payload, err := wire.EncodeMessage(reply)
		if err != nil {
			return err
		}
		if err := wire.WriteFrame(c.conn, payload); err != nil {
			return errors.Wrap(err, "replication: bootstrap stream write")
		}

		if msg.Request.Kind == wire.KindFinishNeighborhoodInitialization {
			return nil
		}
	}
}

func (h *Handlers) dispatchBootstrapRequest(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	switch req.Kind {
	case wire.KindNeighborhoodSharedProfileUpdate:
		return h.NeighborhoodSharedProfileUpdate(ctx, sess, req)
	case wire.KindFinishNeighborhoodInitialization:
		return h.FinishNeighborhoodInitialization(ctx, sess, req)
	default:
		obslog.L().Warnw("bootstrap: unexpected request kind from initializer", "kind", req.Kind)
		return protoerr.FailClose(protoerr.ProtocolViolation, "unexpected request kind during bootstrap")
	}
}
