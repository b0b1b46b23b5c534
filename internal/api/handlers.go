// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/matchvault/internal/app"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/migration"
	"github.com/ManuGH/matchvault/internal/reconcile"
	"github.com/ManuGH/matchvault/internal/settings"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Backend.Status(r.Context()))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.GetSettings(r.Context()))
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	updated, err := s.deps.Settings.UpdateSettings(r.Context(), patch)
	if err != nil {
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_settings", Detail: verr.Reason, Field: verr.Field})
			return
		}
		s.internalError(w, r, "settings.update_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type syncPushResponse struct {
	RunID        string               `json:"runId"`
	Pushed       int                  `json:"pushed"`
	FailureCount int                  `json:"failureCount"`
	Result       reconcile.PushResult `json:"result"`
}

func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Backend.PushAll(r.Context())
	switch {
	case errors.Is(err, app.ErrSyncDisabled):
		writeError(w, http.StatusConflict, "sync_disabled", err.Error())
		return
	case err != nil:
		logger := xglog.WithContext(r.Context(), s.logger)
		logger.Warn().Err(err).Str(xglog.FieldEvent, "sync.push_failed").Msg("sync push failed")
		writeError(w, http.StatusServiceUnavailable, "remote_unavailable", err.Error())
		return
	}

	code := http.StatusOK
	if res.FailureCount() > 0 {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, syncPushResponse{
		RunID:        res.RunID,
		Pushed:       res.Pushed,
		FailureCount: res.FailureCount(),
		Result:       res,
	})
}

func (s *Server) handleStorageRetry(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Backend.RetryBackend(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rep)
	case errors.Is(err, migration.ErrPinned):
		writeJSON(w, http.StatusConflict, rep)
	case errors.Is(err, migration.ErrPartial), errors.Is(err, migration.ErrRolledBack):
		writeJSON(w, http.StatusAccepted, rep)
	default:
		s.internalError(w, r, "storage.retry_failed", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, event string, err error) {
	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Error().Err(err).Str(xglog.FieldEvent, event).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
