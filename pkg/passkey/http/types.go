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

// HeaderCeremonyID is the header carrying the ceremony token between the
// start and finish steps.
const HeaderCeremonyID = "X-Ceremony-Id"

// HeaderCredentialNickname optionally labels the credential being
// registered.
const HeaderCredentialNickname = "X-Credential-Nickname"

// StartRegistrationRequest is the request body for starting registration.
type StartRegistrationRequest struct {
	// Username is the account name being registered (required).
	Username string `json:"username"`

	// DisplayName is the user's display name (optional, defaults to username).
	DisplayName string `json:"display_name,omitempty"`
}

// StartAuthenticationRequest is the request body for starting authentication.
type StartAuthenticationRequest struct {
	// Username identifies whose credentials may answer the challenge (required).
	Username string `json:"username"`
}

// AuthResponse is the response after successful registration or authentication.
type AuthResponse struct {
	// Token is the authentication token (JWT or base64 user handle).
	Token string `json:"token"`

	// Username is the authenticated account name.
	Username string `json:"username"`

	// UserHandle is the base64url-encoded user handle.
	UserHandle string `json:"user_handle"`

	// CloneWarning is set when the authenticator's sign count did not
	// increase, a possible cloned-credential signal.
	CloneWarning bool `json:"clone_warning,omitempty"`
}

// CredentialSummary describes one registered credential.
type CredentialSummary struct {
	// ID is the base64url-encoded credential ID.
	ID string `json:"id"`

	// Nickname is the optional user-assigned label.
	Nickname string `json:"nickname,omitempty"`

	// SignCount is the last stored signature counter value.
	SignCount uint32 `json:"sign_count"`

	// CreatedAt is when the credential was registered, RFC 3339.
	CreatedAt string `json:"created_at"`

	// LastUsedAt is when the credential last authenticated, RFC 3339.
	// Empty if never used.
	LastUsedAt string `json:"last_used_at,omitempty"`
}

// CredentialListResponse is the response for listing credentials.
type CredentialListResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeInvalidCeremony     = "invalid_ceremony"
	ErrorCodeCeremonyExpired     = "ceremony_expired"
	ErrorCodeCeremonyConsumed    = "ceremony_consumed"
	ErrorCodeUserNotFound        = "user_not_found"
	ErrorCodeCredentialNotFound  = "credential_not_found"
	ErrorCodeDuplicateCredential = "duplicate_credential"
	ErrorCodeVerificationFailed  = "verification_failed"
	ErrorCodeInternalError       = "internal_error"
)
