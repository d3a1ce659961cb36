package identity

import (
	"context"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// GetIdentityInformation returns the profile for a hosted identity by
// id, whether or not the corresponding session is online.
func (h *Handlers) GetIdentityInformation(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.GetIdentityInformationRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed GetIdentityInformationRequest")
	}

	row, err := h.Store.GetHostedIdentity(ctx, body.IdentityID)
	if err != nil {
		if err == store.ErrNotFound {
			return protoerr.Fail(protoerr.NotFound, "identity_id")
		}
		obslog.L().Errorw("get identity information", "err", err)
		return protoerr.InternalError()
	}

	_, online := h.Clients.Get(body.IdentityID)

	return protoerr.OK(wire.GetIdentityInformationResponse{Profile: toProfileInfo(row, online, h.ServerID)})
}

func toProfileInfo(row *store.HostedIdentity, online bool, serverID string) wire.ProfileInfo {
	return wire.ProfileInfo{
		IdentityID:        row.IdentityID,
		PublicKey:         row.PublicKey,
		Version:           row.Semver,
		Name:              row.Name,
		Type:              row.Type,
		Lat:               row.Lat,
		Lon:               row.Lon,
		ExtraData:         row.ExtraData,
		HasProfileImage:   row.ProfileImageRef != "",
		HasThumbnailImage: row.ThumbnailImageRef != "",
		IsOnline:          online,
		HostingRedirectID: row.HostingRedirectID,
		Expired:           row.Expired(),
		HostingServerID:   serverID,
	}
}
