// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Handler provides HTTP handlers for passkey ceremony operations.
// These handlers can be mounted on any HTTP router.
type Handler struct {
	service *passkey.Service
	logger  *slog.Logger
}

// NewHandler creates a new passkey HTTP handler.
func NewHandler(service *passkey.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// StartRegistration handles POST /register/start
//
// Request body:
//
//	{
//	    "username": "alice",
//	    "display_name": "Alice" // optional
//	}
//
// Response: WebAuthn PublicKeyCredentialCreationOptions
// Header: X-Ceremony-Id (ceremony token for FinishRegistration)
func (h *Handler) StartRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req StartRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	options, token, err := h.service.StartRegistration(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set(HeaderCeremonyID, token)
	h.writeJSON(w, http.StatusOK, options)
}

// FinishRegistration handles POST /register/finish
//
// Header: X-Ceremony-Id (from StartRegistration)
// Header: X-Credential-Nickname (optional label for the credential)
// Request body: Attestation response from authenticator
// Response: AuthResponse with token and user handle
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	token := r.Header.Get(HeaderCeremonyID)
	if token == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidCeremony, "ceremony ID header is required")
		return
	}
	nickname := r.Header.Get(HeaderCredentialNickname)

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	result, err := h.service.FinishRegistration(r.Context(), token, nickname, response)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AuthResponse{
		Token:      result.Token,
		Username:   result.User.Username,
		UserHandle: base64.RawURLEncoding.EncodeToString(result.User.Handle),
	})
}

// StartAuthentication handles POST /authenticate/start
//
// Request body:
//
//	{
//	    "username": "alice"
//	}
//
// Response: WebAuthn PublicKeyCredentialRequestOptions
// Header: X-Ceremony-Id (ceremony token for FinishAuthentication)
func (h *Handler) StartAuthentication(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req StartAuthenticationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	options, token, err := h.service.StartAuthentication(r.Context(), req.Username)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set(HeaderCeremonyID, token)
	h.writeJSON(w, http.StatusOK, options)
}

// FinishAuthentication handles POST /authenticate/finish
//
// Header: X-Ceremony-Id (from StartAuthentication)
// Request body: Assertion response from authenticator
// Response: AuthResponse with token and user handle
func (h *Handler) FinishAuthentication(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	token := r.Header.Get(HeaderCeremonyID)
	if token == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidCeremony, "ceremony ID header is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	result, err := h.service.FinishAuthentication(r.Context(), token, response)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AuthResponse{
		Token:        result.Token,
		Username:     result.Username,
		UserHandle:   base64.RawURLEncoding.EncodeToString(result.UserHandle),
		CloneWarning: result.CloneWarning,
	})
}

// ListCredentials handles GET /credentials?username=alice
//
// Response: CredentialListResponse
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	creds, err := h.service.Credentials(r.Context(), username)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	summaries := make([]CredentialSummary, 0, len(creds))
	for _, cred := range creds {
		summary := CredentialSummary{
			ID:        base64.RawURLEncoding.EncodeToString(cred.ID),
			Nickname:  cred.Nickname,
			SignCount: cred.SignCount,
			CreatedAt: cred.CreatedAt.Format(time.RFC3339),
		}
		if !cred.LastUsedAt.IsZero() {
			summary.LastUsedAt = cred.LastUsedAt.Format(time.RFC3339)
		}
		summaries = append(summaries, summary)
	}

	h.writeJSON(w, http.StatusOK, CredentialListResponse{Credentials: summaries})
}

// DeleteCredential handles DELETE /credentials/{credentialID}?username=alice
//
// The credential ID path segment is base64url-encoded.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	credentialID, err := base64.RawURLEncoding.DecodeString(r.PathValue("credentialID"))
	if err != nil || len(credentialID) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential ID encoding")
		return
	}

	if err := h.service.RemoveCredential(r.Context(), username, credentialID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleServiceError maps service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrChallengeNotFound):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidCeremony, "ceremony not found")
	case errors.Is(err, passkey.ErrChallengeConsumed):
		h.writeError(w, http.StatusBadRequest, ErrorCodeCeremonyConsumed, "ceremony already completed")
	case errors.Is(err, passkey.ErrChallengeExpired):
		h.writeError(w, http.StatusBadRequest, ErrorCodeCeremonyExpired, "ceremony expired")
	case errors.Is(err, passkey.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case errors.Is(err, passkey.ErrCredentialNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeCredentialNotFound, "credential not found")
	case errors.Is(err, passkey.ErrDuplicateCredentialID):
		h.writeError(w, http.StatusBadRequest, ErrorCodeDuplicateCredential, "credential already registered")
	case errors.Is(err, passkey.ErrVerificationFailed):
		h.writeError(w, http.StatusBadRequest, ErrorCodeVerificationFailed, "verification failed")
	case errors.Is(err, passkey.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
