package identity

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"profileserver/internal/idcrypto"
	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

func cardID(c wire.RelatedIdentityCard) []byte {
	zeroed := c
	zeroed.CardID = ""
	// The card id hashes the identity id, application id, card
	// version, both public keys and the type; the two signatures and
	// the validity window are not covered. A stable deterministic
	// encoding is enough here since the id is not a canonical wire form.
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], zeroed.CardVersion)

	h := sha256.New()
	h.Write([]byte(zeroed.IdentityID))
	h.Write([]byte(zeroed.ApplicationID))
	h.Write(versionBuf[:])
	h.Write(zeroed.IssuerPublicKey)
	h.Write(zeroed.RecipientPublicKey)
	h.Write([]byte(zeroed.Type))
	return h.Sum(nil)
}

func validCard(sess *session.Session, c wire.RelatedIdentityCard) bool {
	if c.ValidFrom.After(c.ValidTo) {
		return false
	}
	if len(c.RecipientPublicKey) != 32 || string(c.RecipientPublicKey) != string(sess.PublicKey) {
		return false
	}
	if len(c.IssuerPublicKey) != 32 || len(c.IssuerSignature) != 64 {
		return false
	}
	if !idcrypto.Verify(c.IssuerPublicKey, cardID(c), c.IssuerSignature) {
		return false
	}
	if len(c.RecipientSignature) != 64 {
		return false
	}
	if !idcrypto.Verify(c.RecipientPublicKey, cardID(c), c.RecipientSignature) {
		return false
	}
	return true
}

// AddRelatedIdentity validates and stores a signed relationship card
// for the caller's hosted identity.
func (h *Handlers) AddRelatedIdentity(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.AddRelatedIdentityRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed AddRelatedIdentityRequest")
	}
	if !validCard(sess, body.Card) {
		return protoerr.Fail(protoerr.InvalidSignature, "card")
	}

	computedID := hex.EncodeToString(cardID(body.Card))
	if body.Card.CardID != "" && body.Card.CardID != computedID {
		return protoerr.Fail(protoerr.InvalidValue, "card_id")
	}

	row := &store.RelatedIdentityCard{
		IdentityID:         sess.HostedIdentityID,
		ApplicationID:      body.Card.ApplicationID,
		CardID:             computedID,
		CardVersion:        body.Card.CardVersion,
		IssuerPublicKey:    body.Card.IssuerPublicKey,
		IssuerSignature:    body.Card.IssuerSignature,
		RecipientPublicKey: body.Card.RecipientPublicKey,
		RecipientSignature: body.Card.RecipientSignature,
		Type:               body.Card.Type,
		ValidFrom:          body.Card.ValidFrom,
		ValidTo:            body.Card.ValidTo,
	}
	if err := h.Store.AddRelatedIdentityCard(ctx, row, h.Config.MaxIdentityRelations); err != nil {
		switch err {
		case store.ErrAlreadyExists:
			return protoerr.Fail(protoerr.AlreadyExists, "application_id")
		case store.ErrQuotaExceeded:
			return protoerr.Fail(protoerr.QuotaExceeded, "related_identity_cards")
		default:
			obslog.L().Errorw("add related identity", "err", err)
			return protoerr.InternalError()
		}
	}
	return protoerr.OK(wire.AddRelatedIdentityResponse{})
}

// RemoveRelatedIdentity deletes a relationship card by application id.
func (h *Handlers) RemoveRelatedIdentity(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.RemoveRelatedIdentityRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed RemoveRelatedIdentityRequest")
	}
	if err := h.Store.RemoveRelatedIdentityCard(ctx, sess.HostedIdentityID, body.ApplicationID); err != nil {
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.NotFound, "application_id")
		}
		obslog.L().Errorw("remove related identity", "err", err)
		return protoerr.InternalError()
	}
	return protoerr.OK(wire.RemoveRelatedIdentityResponse{})
}

// GetIdentityRelationshipsInformation returns cards for an identity
// matching the requested filters.
func (h *Handlers) GetIdentityRelationshipsInformation(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.GetIdentityRelationshipsInformationRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed GetIdentityRelationshipsInformationRequest")
	}
	rows, err := h.Store.ListRelatedIdentityCards(ctx, body.IdentityID, body.Type, body.Issuer, body.IncludeInvalid)
	if err != nil {
		obslog.L().Errorw("get identity relationships", "err", err)
		return protoerr.InternalError()
	}
	cards := make([]wire.RelatedIdentityCard, 0, len(rows))
	for _, r := range rows {
		cards = append(cards, wire.RelatedIdentityCard{
			IdentityID:         r.IdentityID,
			ApplicationID:      r.ApplicationID,
			CardID:             r.CardID,
			CardVersion:        r.CardVersion,
			IssuerPublicKey:    r.IssuerPublicKey,
			IssuerSignature:    r.IssuerSignature,
			RecipientPublicKey: r.RecipientPublicKey,
			RecipientSignature: r.RecipientSignature,
			Type:               r.Type,
			ValidFrom:          r.ValidFrom,
			ValidTo:            r.ValidTo,
		})
	}
	return protoerr.OK(wire.GetIdentityRelationshipsInformationResponse{Cards: cards})
}
