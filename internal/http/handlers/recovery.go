package handlers

import (
	"errors"
	"net/http"

	"mediarecon/internal/recovery"
)

// RecoveryCheck runs the periodic recovery for the caller. The result is
// always returned with 200, including rejections and aborted batches.
func (a *App) RecoveryCheck(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	res, err := a.Recovery.CheckAndRecoverUserImages(r.Context(), userID)
	a.recoveryResult(w, r, userID, res, err)
}

// RecoveryForce runs the forced recovery for the caller.
func (a *App) RecoveryForce(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	res, err := a.Recovery.ExecuteAutoRecovery(r.Context(), userID)
	a.recoveryResult(w, r, userID, res, err)
}

func (a *App) recoveryResult(w http.ResponseWriter, r *http.Request, userID string, res recovery.Result, err error) {
	if err != nil && !errors.Is(err, recovery.ErrInProgress) {
		a.Logger.Warn().Err(err).Str("user_id", userID).Msg("http: recovery did not complete")
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	a.json(w, http.StatusOK, res)
}

// StorageSweep migrates one batch of the caller's own records. Sweeps across
// all users only run from the worker loop.
func (a *App) StorageSweep(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Sweeper == nil {
		a.error(w, r, http.StatusServiceUnavailable, "unavailable", "storage migration is not configured")
		return
	}
	res, err := a.Sweeper.SweepUser(r.Context(), userID)
	if err != nil {
		a.Logger.Warn().Err(err).Str("user_id", userID).Msg("http: sweep aborted")
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	a.json(w, http.StatusOK, res)
}
