package replication

import (
	"crypto/ed25519"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"

	"profileserver/internal/idcrypto"
	"profileserver/internal/protoerr"
	"profileserver/internal/wire"
)

// pushClient is a minimal client-side counterpart of the
// StartConversation/VerifyIdentity handshake internal/identity serves,
// used by the worker's short-lived outbound connections to a
// follower's ServerNeighbor port. It does not implement the full
// session/dispatch machinery: it only needs to authenticate once and
// then exchange a handful of request/response round trips before the
// connection is closed.
type pushClient struct {
	conn   net.Conn
	nextID uint32

	// RemoteIdentity is the identity id the far side proved ownership
	// of by signing our own client challenge with the key it
	// presented as ServerPublicKey. Callers that only push updates
	// (worker.go) don't need it; Bootstrap does, to key the resulting
	// Neighbor row.
	RemoteIdentity idcrypto.IdentityID
}

func dialAndAuthenticate(addr string, dialTimeout time.Duration, insecureTLS bool, pub ed25519.PublicKey, priv ed25519.PrivateKey) (*pushClient, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: insecureTLS})
	if err != nil {
		return nil, errors.Wrap(err, "replication: dial")
	}

	c := &pushClient{conn: conn}

	clientChallenge, err := idcrypto.NewChallenge()
	if err != nil {
		conn.Close()
		return nil, err
	}

	startResp, err := c.roundTrip(true, wire.KindStartConversation, wire.StartConversationRequest{
		SupportedVersions: []string{"1.0.0"},
		ClientChallenge:   clientChallenge,
		PublicKey:         pub,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	var startBody wire.StartConversationResponse
	if err := startResp.DecodeBody(&startBody); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "replication: decode StartConversationResponse")
	}
	if len(startBody.ServerPublicKey) == ed25519.PublicKeySize &&
		idcrypto.Verify(startBody.ServerPublicKey, clientChallenge, startBody.ServerSignature) {
		c.RemoteIdentity = idcrypto.DeriveIdentityID(startBody.ServerPublicKey)
	}

	verifyResp, err := c.roundTrip(true, wire.KindVerifyIdentity, wire.VerifyIdentityRequest{
		Signature: idcrypto.Sign(priv, startBody.ServerChallenge),
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if verifyResp.Status != protoerr.Ok {
		conn.Close()
		return nil, errors.Errorf("replication: verify identity rejected: %s", verifyResp.Status)
	}

	return c, nil
}

func (c *pushClient) roundTrip(conversation bool, kind wire.RequestKind, body any) (*wire.Response, error) {
	c.nextID++
	msg, err := wire.NewRequest(c.nextID, conversation, kind, body)
	if err != nil {
		return nil, errors.Wrap(err, "replication: build request")
	}
	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(c.conn, payload); err != nil {
		return nil, errors.Wrap(err, "replication: write frame")
	}

	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, errors.Wrap(err, "replication: read frame")
	}
	reply, err := wire.DecodeMessage(frame)
	if err != nil {
		return nil, err
	}
	if reply.Response == nil {
		return nil, errors.New("replication: expected a response envelope")
	}
	return reply.Response, nil
}

func (c *pushClient) close() {
	c.conn.Close()
}
