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

package passkey

import (
	"context"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// LibraryVerifier implements Verifier on top of the go-webauthn library.
// It performs the full cryptographic validation of authenticator responses:
// client data hashing, origin and RP ID checks, attestation parsing and
// assertion signature verification.
type LibraryVerifier struct {
	webauthn *webauthn.WebAuthn
}

// NewLibraryVerifier creates a LibraryVerifier from the service configuration.
func NewLibraryVerifier(config *Config) (*LibraryVerifier, error) {
	if config == nil {
		return nil, NewError("new verifier", ErrInvalidRequest)
	}
	wa, err := webauthn.New(config.ToWebAuthnConfig())
	if err != nil {
		return nil, WrapError("new verifier", err)
	}
	return &LibraryVerifier{webauthn: wa}, nil
}

// VerifyRegistration validates an attestation response against the pending
// ceremony and returns the credential the authenticator minted.
func (v *LibraryVerifier) VerifyRegistration(ctx context.Context, ceremony *PendingCeremony, response *protocol.ParsedCredentialCreationData) (*VerifiedCredential, error) {
	subject := &ceremonyUser{
		handle:      ceremony.UserHandle,
		name:        ceremony.Subject,
		displayName: ceremony.DisplayName,
	}

	credential, err := v.webauthn.CreateCredential(subject, ceremony.Session, response)
	if err != nil {
		return nil, WrapError("verify registration", err)
	}

	return &VerifiedCredential{
		ID:              credential.ID,
		PublicKey:       credential.PublicKey,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		Transport:       credential.Transport,
		AttestationType: credential.AttestationType,
	}, nil
}

// VerifyAssertion validates an assertion response against the pending
// ceremony using the owner's registered credentials.
func (v *LibraryVerifier) VerifyAssertion(ctx context.Context, ceremony *PendingCeremony, owner *User, response *protocol.ParsedCredentialAssertionData) (*VerifiedAssertion, error) {
	subject := &ceremonyUser{
		handle:      owner.Handle,
		name:        owner.Username,
		displayName: owner.DisplayName,
		credentials: owner.Credentials,
	}

	credential, err := v.webauthn.ValidateLogin(subject, ceremony.Session, response)
	if err != nil {
		return nil, WrapError("verify assertion", err)
	}

	return &VerifiedAssertion{
		CredentialID: credential.ID,
		SignCount:    credential.Authenticator.SignCount,
	}, nil
}

// ceremonyUser adapts ceremony state to the webauthn.User interface the
// library validates against.
type ceremonyUser struct {
	handle      []byte
	name        string
	displayName string
	credentials []*Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName != "" {
		return u.displayName
	}
	return u.name
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.credentials))
	for _, c := range u.credentials {
		creds = append(creds, c.toLibrary())
	}
	return creds
}
