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

// Package passkey implements the relying-party core of a WebAuthn (FIDO2)
// passkey server: ceremony orchestration, credential bookkeeping and
// challenge lifecycle management.
//
// This package provides:
//   - A ceremony orchestrator (Service) for registration and authentication
//   - Pluggable persistence (CredentialRepository) with in-memory and
//     SQLite implementations
//   - A single-use, time-bounded challenge store (ChallengeStore)
//   - Cryptographic verification behind the Verifier interface, backed by
//     the go-webauthn/webauthn library in production
//   - Optional JWT issuance after a successful ceremony
//
// # Architecture
//
// The package is designed with a layered architecture:
//
//  1. Service layer (Service) - Ceremony state machine and bookkeeping
//  2. Storage layer (CredentialRepository, ChallengeStore) - Pluggable persistence
//  3. Verification layer (Verifier) - Attestation and assertion crypto
//  4. HTTP layer (pkg/passkey/http) - Composable HTTP handlers
//
// # Usage
//
// Basic usage with in-memory storage (for development):
//
//	verifier, err := passkey.NewLibraryVerifier(cfg)
//	svc, err := passkey.NewService(passkey.ServiceParams{
//	    Config: &passkey.Config{
//	        RPID:          "localhost",
//	        RPDisplayName: "My App",
//	        RPOrigins:     []string{"https://localhost:3000"},
//	    },
//	    Repository: passkey.NewMemoryRepository(),
//	    Challenges: passkey.NewMemoryChallengeStore(),
//	    Verifier:   verifier,
//	})
//
// For production, back CredentialRepository with your database; the
// sqlite subpackage provides a ready implementation.
//
// # Ceremony model
//
// Both ceremonies are two-step. Start mints a random challenge and an
// opaque ceremony token, freezing the ceremony's parameters; finish
// consumes the token exactly once and verifies the authenticator's
// response against the frozen state. A token that is replayed, expired
// or unknown fails the finish step, and a failed finish always requires
// a fresh start.
//
// # WebAuthn Specification Compliance
//
// This implementation follows the W3C Web Authentication specification:
//   - https://www.w3.org/TR/webauthn-2/
//   - https://www.w3.org/TR/webauthn-3/
//
// Note: WebAuthn requires HTTPS for all operations. Browsers will only
// expose the WebAuthn API in secure contexts.
package passkey
