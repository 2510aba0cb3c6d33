// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/store/users"
)

const minPasswordLen = 8

type registerRequest struct {
	Name            string `json:"name"`
	PhoneNumber     string `json:"phoneNumber"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type authResponse struct {
	UserID      int64  `json:"userId"`
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "malformed JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, "name is required")
		return
	}
	phone := model.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		writeError(w, "phone number is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, "password must be at least 8 characters")
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, "passwords do not match")
		return
	}

	acct, err := s.cfg.Users.Register(r.Context(), phone, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrPhoneTaken) {
			writeError(w, "phone number already registered")
			return
		}
		s.logger.Error().Err(err).Msg("registration failed")
		writeInternal(w)
		return
	}
	s.issueToken(w, acct)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "malformed JSON body")
		return
	}
	phone := model.NormalizePhone(req.PhoneNumber)
	if phone == "" || req.Password == "" {
		writeError(w, "phone number and password are required")
		return
	}

	acct, err := s.cfg.Users.Authenticate(r.Context(), phone, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) || errors.Is(err, users.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_credentials"})
			return
		}
		s.logger.Error().Err(err).Msg("login failed")
		writeInternal(w)
		return
	}
	s.issueToken(w, acct)
}

func (s *Server) issueToken(w http.ResponseWriter, acct *users.Account) {
	token, err := s.cfg.Tokens.Issue(acct)
	if err != nil {
		s.logger.Error().Err(err).Msg("token issuance failed")
		writeInternal(w)
		return
	}
	setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, authResponse{
		UserID:      acct.UserID,
		SessionID:   acct.SessionID(),
		PhoneNumber: acct.Phone,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
	})
}
