package identity

import (
	"context"

	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

// ApplicationServiceAdd registers a service name on the caller's
// session, up to the per-session cap.
func (h *Handlers) ApplicationServiceAdd(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.ApplicationServiceAddRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed ApplicationServiceAddRequest")
	}
	if len(body.Name) == 0 || len(body.Name) > maxAppServiceName {
		return protoerr.Fail(protoerr.InvalidValue, "name")
	}
	if sess.HasApplicationService(body.Name) {
		return protoerr.OK(wire.ApplicationServiceAddResponse{})
	}
	if len(sess.ApplicationServices) >= maxAppServices {
		return protoerr.Fail(protoerr.QuotaExceeded, "application_services")
	}
	sess.AddApplicationService(body.Name)
	return protoerr.OK(wire.ApplicationServiceAddResponse{})
}

// ApplicationServiceRemove unregisters a service name from the
// caller's session.
func (h *Handlers) ApplicationServiceRemove(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.ApplicationServiceRemoveRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed ApplicationServiceRemoveRequest")
	}
	sess.RemoveApplicationService(body.Name)
	return protoerr.OK(wire.ApplicationServiceRemoveResponse{})
}
