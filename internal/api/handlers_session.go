// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/flockd/internal/session/controller"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/go-chi/chi/v5"
)

type connectRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type connectResponse struct {
	SessionID   string `json:"sessionId"`
	Code        string `json:"code,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
}

type disconnectRequest struct {
	Force bool `json:"force"`
}

type statusResponse struct {
	SessionID        string `json:"sessionId"`
	IsConnected      bool   `json:"isConnected"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	ConnectionStatus string `json:"connectionStatus"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "malformed JSON body")
		return
	}
	phone := model.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		writeError(w, "phone number is required")
		return
	}

	sessionID := model.SessionIDFor(claims.UserID)
	if s.cfg.Fleet.IsConnected(sessionID) {
		writeError(w, "session already connected")
		return
	}
	if other, err := s.cfg.Sessions.GetByPhone(r.Context(), phone); err == nil &&
		other != nil && other.SessionID != sessionID {
		writeError(w, "phone number in use by another session")
		return
	}

	waiter := s.registerCodeWaiter(sessionID)
	defer s.dropCodeWaiter(sessionID)

	ctrl, err := s.cfg.Fleet.Create(r.Context(), fleet.CreateOptions{
		SessionID: sessionID,
		UserID:    claims.UserID,
		Phone:     phone,
	})
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrFleetFull):
			writeServiceUnavailable(w, "session limit reached, try again later")
		case errors.Is(err, fleet.ErrSessionInitializing):
			writeError(w, "connect already in progress")
		default:
			s.logger.Error().Err(err).Msg("session create failed")
			writeInternal(w)
		}
		return
	}

	code, ok := s.waitPairing(r.Context(), ctrl, waiter)
	if !ok {
		writeJSON(w, http.StatusGatewayTimeout, errorBody{
			Error:  "pairing_timeout",
			Detail: "no pairing code within the wait budget",
		})
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{
		SessionID:   sessionID,
		Code:        code,
		PhoneNumber: phone,
	})
}

// waitPairing blocks until a pairing code arrives, the session opens without
// one (already registered), or the wait budget runs out.
func (s *Server) waitPairing(ctx context.Context, ctrl *controller.Controller, waiter <-chan string) (string, bool) {
	deadline := time.NewTimer(s.connectWait)
	defer deadline.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case code := <-waiter:
			return code, true
		case <-poll.C:
			if ctrl.IsConnected() {
				return "", true
			}
			if ctrl.State() == controller.StateTerminated {
				return "", false
			}
		case <-deadline.C:
			return "", false
		}
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	sessionID := model.SessionIDFor(claims.UserID)

	var req disconnectRequest
	if r.Body != nil {
		// Body is optional; a bare POST is a plain disconnect.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if _, owned := s.cfg.Fleet.Get(sessionID); !owned {
		rec, err := s.cfg.Sessions.Get(r.Context(), sessionID)
		if err != nil {
			writeServiceUnavailable(w, "session store unreachable")
			return
		}
		if rec == nil || !rec.IsConnected {
			writeError(w, "session not connected")
			return
		}
	}

	if err := s.cfg.Fleet.Disconnect(r.Context(), sessionID, req.Force); err != nil {
		if errors.Is(err, fleet.ErrSessionNotFound) {
			writeError(w, "session not connected")
			return
		}
		s.logger.Error().Err(err).Msg("disconnect failed")
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	s.writeSessionStatus(w, r, model.SessionIDFor(claims.UserID), false)
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !strings.HasPrefix(sessionID, model.SessionIDPrefix) || !model.IsValidSessionID(sessionID) {
		writeError(w, "session id must be of the form session_<userId>")
		return
	}
	s.writeSessionStatus(w, r, sessionID, true)
}

// writeSessionStatus renders the shared status shape. A missing record is a
// 404 on explicit lookups and a disconnected placeholder on own-session
// reads.
func (s *Server) writeSessionStatus(w http.ResponseWriter, r *http.Request, sessionID string, strict bool) {
	rec, err := s.cfg.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeServiceUnavailable(w, "session store unreachable")
		return
	}
	if rec == nil {
		if strict {
			writeNotFound(w)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			SessionID:        sessionID,
			ConnectionStatus: string(model.StatusDisconnected),
		})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:        rec.SessionID,
		IsConnected:      rec.IsConnected,
		PhoneNumber:      rec.PhoneNumber,
		ConnectionStatus: string(rec.ConnectionStatus),
	})
}
