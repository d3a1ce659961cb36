package identity

import (
	"context"

	"profileserver/internal/idcrypto"
	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// RegisterHosting creates or reactivates a hosted identity under a
// hosting-plan contract, gated by the configured hosting-plan
// allow-list decided in the open-questions section of the design
// notes.
func (h *Handlers) RegisterHosting(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.RegisterHostingRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed RegisterHostingRequest")
	}

	if !h.validContract(body.Contract) {
		return protoerr.Fail(protoerr.InvalidValue, "contract")
	}
	if allow := h.Config.HostingPlanAllowlist; len(allow) > 0 {
		allowed := false
		for _, p := range allow {
			if p == body.Contract.PlanID {
				allowed = true
				break
			}
		}
		if !allowed {
			return protoerr.Fail(protoerr.Unsupported, "contract.plan_id")
		}
	}

	identityID := sess.IdentityID.String()
	_, _, err := h.Store.RegisterHosting(ctx, identityID, sess.PublicKey, h.Config.MaxHostedIdentities)
	if err != nil {
		switch err {
		case store.ErrAlreadyExists:
			return protoerr.Fail(protoerr.AlreadyExists, "identity_id")
		case store.ErrQuotaExceeded:
			return protoerr.Fail(protoerr.QuotaExceeded, "max_hosted_identities")
		default:
			obslog.L().Errorw("register hosting", "err", err)
			return protoerr.InternalError()
		}
	}

	return protoerr.OK(wire.RegisterHostingResponse{IdentityID: identityID})
}

func (h *Handlers) validContract(c wire.HostingContract) bool {
	if c.Type == "" || len(c.IssuerPublicKey) != 32 || len(c.IssuerSignature) != 64 {
		return false
	}
	return idcrypto.Verify(c.IssuerPublicKey, []byte(c.PlanID), c.IssuerSignature)
}

// UpdateProfile applies a partial profile update, writing any new
// image blob before the database transaction and unlinking the old
// one only after commit.
func (h *Handlers) UpdateProfile(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.UpdateProfileRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed UpdateProfileRequest")
	}

	identityID := sess.HostedIdentityID

	existing, err := h.Store.GetHostedIdentity(ctx, identityID)
	if err != nil {
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.NotFound, "identity_id")
		}
		obslog.L().Errorw("update profile: lookup", "err", err)
		return protoerr.InternalError()
	}

	if !existing.Initialized() {
		if !body.SetVersion || !body.SetName || !body.SetLocation {
			return protoerr.Fail(protoerr.InvalidValue, "version,name,location required on first update")
		}
	} else if !body.SetVersion && !body.SetName && !body.SetType && !body.SetLocation && !body.SetExtraData && !body.SetImage && !body.SetThumbnail {
		return protoerr.Fail(protoerr.InvalidValue, "set*")
	}
	if body.SetVersion && body.Version != negotiatedVersion {
		return protoerr.Fail(protoerr.InvalidValue, "version")
	}
	if body.SetName && !validName(body.Name) {
		return protoerr.Fail(protoerr.InvalidValue, "name")
	}
	if body.SetLocation && !validLocation(body.Lat, body.Lon) {
		return protoerr.Fail(protoerr.InvalidValue, "location")
	}
	if body.SetExtraData && !validExtraData(body.ExtraData) {
		return protoerr.Fail(protoerr.InvalidValue, "extra_data")
	}
	if body.SetImage && !validImage(body.ImageData) {
		return protoerr.Fail(protoerr.InvalidValue, "image_data")
	}
	if body.SetThumbnail && !validImage(body.ThumbnailData) {
		return protoerr.Fail(protoerr.InvalidValue, "thumbnail_data")
	}

	var newImageID, oldImageID, newThumbID, oldThumbID string
	if body.SetImage {
		id, werr := h.Blobs.Write(ctx, body.ImageData)
		if werr != nil {
			obslog.L().Errorw("update profile: write image", "err", werr)
			return protoerr.InternalError()
		}
		newImageID = id
	}
	if body.SetThumbnail {
		id, werr := h.Blobs.Write(ctx, body.ThumbnailData)
		if werr != nil {
			obslog.L().Errorw("update profile: write thumbnail", "err", werr)
			return protoerr.InternalError()
		}
		newThumbID = id
	}

	actionType := store.ActionChangeProfile
	if !existing.Initialized() {
		actionType = store.ActionAddProfile
	}

	_, err = h.Store.UpdateProfileAndQueueActions(ctx, identityID, func(row *store.HostedIdentity) error {
		if body.SetVersion {
			row.Semver = body.Version
		}
		if body.SetName {
			row.Name = body.Name
		}
		if body.SetType {
			row.Type = body.Type
		}
		if body.SetLocation {
			row.Lat = body.Lat
			row.Lon = body.Lon
		}
		if body.SetExtraData {
			row.ExtraData = body.ExtraData
		}
		if body.SetImage {
			oldImageID = row.ProfileImageRef
			row.ProfileImageRef = newImageID
		}
		if body.SetThumbnail {
			oldThumbID = row.ThumbnailImageRef
			row.ThumbnailImageRef = newThumbID
		}
		return nil
	}, actionType)
	if err != nil {
		if newImageID != "" {
			_ = h.Blobs.Unlink(newImageID)
		}
		if newThumbID != "" {
			_ = h.Blobs.Unlink(newThumbID)
		}
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.NotFound, "identity_id")
		}
		obslog.L().Errorw("update profile: commit", "err", err)
		return protoerr.InternalError()
	}

	if oldImageID != "" {
		if uerr := h.Blobs.Unlink(oldImageID); uerr != nil {
			obslog.L().Warnw("update profile: unlink old image", "err", uerr)
		}
	}
	if oldThumbID != "" {
		if uerr := h.Blobs.Unlink(oldThumbID); uerr != nil {
			obslog.L().Warnw("update profile: unlink old thumbnail", "err", uerr)
		}
	}

	return protoerr.OK(wire.UpdateProfileResponse{})
}

// CancelHostingAgreement expires (immediately or after the configured
// redirect retention) the caller's hosted identity.
func (h *Handlers) CancelHostingAgreement(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.CancelHostingAgreementRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed CancelHostingAgreementRequest")
	}

	redirect := ""
	if body.Redirect {
		redirect = body.RedirectIdentityID
	}

	_, err := h.Store.CancelHostingAgreement(ctx, sess.HostedIdentityID, redirect, h.Config.HostingRedirectRetention, negotiatedVersion)
	if err != nil {
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.NotFound, "identity_id")
		}
		obslog.L().Errorw("cancel hosting agreement", "err", err)
		return protoerr.InternalError()
	}

	return protoerr.OK(wire.CancelHostingAgreementResponse{})
}
