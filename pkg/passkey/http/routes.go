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
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountChi mounts passkey routes on a chi router.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(svc)
//	r.Route("/api/v1/webauthn", func(r chi.Router) {
//	    passkeyhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	r.Post("/register/start", h.StartRegistration)
	r.Post("/register/finish", h.FinishRegistration)
	r.Post("/authenticate/start", h.StartAuthentication)
	r.Post("/authenticate/finish", h.FinishAuthentication)
	r.Get("/credentials", h.ListCredentials)
	r.Delete("/credentials/{credentialID}", h.DeleteCredential)
}

// MountStdlib mounts passkey routes on a stdlib http.ServeMux.
// The prefix should not include a trailing slash.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(svc)
//	passkeyhttp.MountStdlib(mux, "/api/v1/webauthn", handler)
func MountStdlib(mux *http.ServeMux, prefix string, h *Handler) {
	mux.HandleFunc(prefix+"/register/start", h.StartRegistration)
	mux.HandleFunc(prefix+"/register/finish", h.FinishRegistration)
	mux.HandleFunc(prefix+"/authenticate/start", h.StartAuthentication)
	mux.HandleFunc(prefix+"/authenticate/finish", h.FinishAuthentication)
	mux.HandleFunc(prefix+"/credentials", h.ListCredentials)
	mux.HandleFunc(prefix+"/credentials/{credentialID}", h.DeleteCredential)
}

// RouteEntry represents a single route with its method, path, and handler.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns a slice of route entries for manual mounting.
// Useful for frameworks not directly supported.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(svc)
//	for _, route := range handler.Routes() {
//	    router.Add(route.Method, "/webauthn"+route.Path, route.Handler)
//	}
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: "POST", Path: "/register/start", Handler: h.StartRegistration},
		{Method: "POST", Path: "/register/finish", Handler: h.FinishRegistration},
		{Method: "POST", Path: "/authenticate/start", Handler: h.StartAuthentication},
		{Method: "POST", Path: "/authenticate/finish", Handler: h.FinishAuthentication},
		{Method: "GET", Path: "/credentials", Handler: h.ListCredentials},
		{Method: "DELETE", Path: "/credentials/{credentialID}", Handler: h.DeleteCredential},
	}
}
