package relay

import (
	"context"
	"time"

	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/session"
	"profileserver/internal/wire"
)

// SweepInterval is how often Run checks for stale relays.
const SweepInterval = 5 * time.Second

// Run periodically destroys relays that have sat in a
// not-yet-established state past their configured timeout: a callee
// that never answers IncomingCallNotification, or one side of a pair
// that never presents its token to the app-service listener. It
// returns when ctx is done, so callers start it with `go`.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce()
		}
	}
}

func (e *Engine) sweepOnce() {
	callTimeout := time.Duration(e.Config.RelayCallTimeoutSeconds) * time.Second
	pairingTimeout := time.Duration(e.Config.RelayPairingTimeoutSeconds) * time.Second
	now := time.Now()

	for _, r := range e.Relays.all() {
		r.mu.Lock()
		age := now.Sub(r.CreatedAt)
		state := r.state
		var caller, callee *session.Session = r.CallerIdentitySession, r.CalleeIdentitySession
		callerReqID := r.CallerRequestID
		notifyID := r.CalleeNotifyID
		r.mu.Unlock()

		switch state {
		case StateCreated, StateCalleeNotified:
			if age <= callTimeout {
				continue
			}
			obslog.Tracef("relay: callee notification timeout caller_token=%s age=%s", r.CallerToken, age)
			e.Relays.Remove(r)
			r.setState(StateClosed)

			// The callee never answered IncomingCallNotification, so
			// its response callback (if it ever arrives) must not
			// resolve into a relay that no longer exists.
			if callee != nil {
				callee.PopResponseCallback(notifyID)
				callee.RequestDisconnect()
			}
			if caller != nil {
				reply, err := wire.NewResponse(callerReqID, true, wire.KindCallIdentityApplicationService, protoerr.NotAvailable, "callee did not respond", nil)
				if err != nil {
					obslog.L().Errorw("relay: build timeout reply", "err", err)
					continue
				}
				if err := caller.Send(reply); err != nil {
					obslog.L().Warnw("relay: send timeout reply to caller", "err", err)
				}
			}

		case StateCalleeAccepted, StateCallerAcknowledged:
			if age <= pairingTimeout {
				continue
			}
			obslog.Tracef("relay: sweeping stale relay caller_token=%s state=%d age=%s", r.CallerToken, state, age)
			e.Relays.Remove(r)
			if caller != nil {
				caller.RequestDisconnect()
			}
		}
	}
}
