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

// Package http provides composable HTTP handlers for passkey ceremonies.
//
// This package allows applications to add passkey registration and
// authentication to their existing HTTP servers without coupling to
// go-passkey's internal REST implementation.
//
// # Usage
//
// Create a handler from a passkey service and mount it on your router:
//
//	svc, _ := passkey.NewService(...)
//	handler := passkeyhttp.NewHandler(svc)
//
//	// For chi router:
//	r.Route("/api/v1/webauthn", func(r chi.Router) {
//	    passkeyhttp.MountChi(r, handler)
//	})
//
//	// For stdlib http.ServeMux (Go 1.22+):
//	passkeyhttp.MountStdlib(mux, "/api/v1/webauthn", handler)
//
// # Endpoints
//
// The handler provides the following endpoints:
//
//	POST   /register/start             - Start registration ceremony
//	POST   /register/finish            - Complete registration
//	POST   /authenticate/start         - Start authentication ceremony
//	POST   /authenticate/finish        - Complete authentication
//	GET    /credentials                - List a user's credentials
//	DELETE /credentials/{credentialID} - Remove a credential
//
// # Headers
//
// The handlers use the following custom headers:
//
//	X-Ceremony-Id: Ceremony token returned by start operations.
//	               Must be included in finish operations.
//	X-Credential-Nickname: Optional label for the credential being
//	               registered, sent with /register/finish.
//
// # Response Format
//
// All responses are JSON. Successful responses include the data directly.
// Error responses have the format:
//
//	{
//	    "error": "error_code",
//	    "message": "Human-readable message"
//	}
package http
