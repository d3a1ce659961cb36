package identity

import (
	"context"
	"crypto/ed25519"

	"profileserver/internal/idcrypto"
	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

const negotiatedVersion = "1.0.0"

func supports(versions []string, want string) bool {
	for _, v := range versions {
		if v == want {
			return true
		}
	}
	return false
}

// StartConversation binds the session's identity_id, issues a server
// challenge, and signs the client's own challenge (echoed back in the
// response) so the client can verify it is talking to this server's
// key. The server challenge itself is not covered by that signature.
func (h *Handlers) StartConversation(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.StartConversationRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed StartConversationRequest")
	}

	if !supports(body.SupportedVersions, negotiatedVersion) {
		return protoerr.Fail(protoerr.Unsupported, "no common protocol version")
	}
	if len(body.PublicKey) != ed25519.PublicKeySize {
		return protoerr.Fail(protoerr.InvalidValue, "public_key")
	}
	if len(body.ClientChallenge) != idcrypto.ChallengeSize {
		return protoerr.Fail(protoerr.InvalidValue, "client_challenge")
	}

	challenge, err := idcrypto.NewChallenge()
	if err != nil {
		obslog.L().Errorw("start conversation: generate challenge", "err", err)
		return protoerr.InternalError()
	}

	sess.Start(ed25519.PublicKey(body.PublicKey), challenge)

	return protoerr.OK(wire.StartConversationResponse{
		Version:             negotiatedVersion,
		ServerPublicKey:     h.PublicKey,
		ServerSignature:     idcrypto.Sign(h.PrivateKey, body.ClientChallenge),
		ServerChallenge:     challenge,
		ClientChallengeEcho: body.ClientChallenge,
	})
}

func verifySessionChallenge(sess *session.Session, signature []byte) bool {
	challenge := sess.Challenge()
	if challenge == nil || sess.PublicKey == nil {
		return false
	}
	return idcrypto.Verify(sess.PublicKey, challenge, signature)
}

// VerifyIdentity checks the client's signature over the server
// challenge issued at StartConversation and advances Started ->
// Verified.
func (h *Handlers) VerifyIdentity(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.VerifyIdentityRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed VerifyIdentityRequest")
	}
	if !verifySessionChallenge(sess, body.Signature) {
		return protoerr.Fail(protoerr.InvalidSignature, "signature")
	}
	sess.Verify()
	return protoerr.OK(wire.VerifyIdentityResponse{})
}

// CheckIn performs the same signature check as VerifyIdentity and
// additionally binds a hosted identity to the session, advancing
// Started or Verified -> Authenticated.
func (h *Handlers) CheckIn(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.CheckInRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed CheckInRequest")
	}
	if !verifySessionChallenge(sess, body.Signature) {
		return protoerr.Fail(protoerr.InvalidSignature, "signature")
	}

	identityID := sess.IdentityID.String()
	if _, err := h.Store.GetHostedIdentity(ctx, identityID); err != nil {
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.NotFound, "identity_id")
		}
		obslog.L().Errorw("check in: lookup hosted identity", "err", err)
		return protoerr.InternalError()
	}

	sess.Authenticate(identityID)

	if replaced, err := h.Clients.Put(identityID, sess); err != nil {
		return protoerr.Fail(protoerr.QuotaExceeded, "client registry")
	} else if replaced != nil {
		replaced.RequestDisconnect()
	}

	return protoerr.OK(wire.CheckInResponse{})
}

// ListRoles enumerates the roles active on this server, primarily
// used for discovery from the plaintext Primary listener.
func (h *Handlers) ListRoles(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	roles := []wire.RoleInfo{
		{Role: string(session.RolePrimary), Port: h.Config.PrimaryPort, TCP: true, TLS: false},
		{Role: string(session.RoleServerNeighbor), Port: h.Config.ServerNeighborPort, TCP: true, TLS: true},
		{Role: string(session.RoleClientNonCustomer), Port: h.Config.ClientNonCustomerPort, TCP: true, TLS: true},
		{Role: string(session.RoleClientCustomer), Port: h.Config.ClientCustomerPort, TCP: true, TLS: true},
		{Role: string(session.RoleClientAppService), Port: h.Config.ClientAppServicePort, TCP: true, TLS: true},
	}
	return protoerr.OK(wire.ListRolesResponse{Roles: roles})
}
