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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// UserHandleSize is the size in bytes of a server-generated user handle.
const UserHandleSize = 32

// User is a relying-party account. The username is the human-chosen login
// key; the handle is a server-generated random identifier that never leaks
// any human-readable attribute into the WebAuthn protocol.
type User struct {
	// Username is the unique, immutable human-chosen identifier.
	Username string `json:"username"`

	// Handle is the unique, immutable server-generated user handle.
	Handle []byte `json:"handle"`

	// DisplayName is an optional, mutable presentation-only name.
	DisplayName string `json:"display_name,omitempty"`

	// Credentials holds the user's registered credentials in
	// registration order.
	Credentials []*Credential `json:"credentials,omitempty"`
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := &User{
		Username:    u.Username,
		Handle:      append([]byte(nil), u.Handle...),
		DisplayName: u.DisplayName,
	}
	if len(u.Credentials) > 0 {
		cp.Credentials = make([]*Credential, len(u.Credentials))
		for i, c := range u.Credentials {
			cp.Credentials[i] = c.Clone()
		}
	}
	return cp
}

// Credential is a registered public-key credential bound to one user.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	// It is unique across the entire repository, not just per user.
	ID []byte `json:"id"`

	// Owner is the username of the user this credential belongs to.
	Owner string `json:"owner"`

	// PublicKey is the credential's public key in COSE format. It is
	// opaque to this layer and consumed only by the Verifier.
	PublicKey []byte `json:"public_key"`

	// SignCount is the authenticator-reported signature counter.
	// Legitimately 0 for authenticators without counters.
	SignCount uint32 `json:"sign_count"`

	// AAGUID is the optional 16-byte authenticator model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// Transport lists the transports supported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// AttestationType indicates the type of attestation used.
	AttestationType string `json:"attestation_type,omitempty"`

	// Nickname is an optional user-chosen label for the credential.
	Nickname string `json:"nickname,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential was last used for authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Clone returns a deep copy of the credential.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ID = append([]byte(nil), c.ID...)
	cp.PublicKey = append([]byte(nil), c.PublicKey...)
	cp.AAGUID = append([]byte(nil), c.AAGUID...)
	cp.Transport = append([]protocol.AuthenticatorTransport(nil), c.Transport...)
	return &cp
}

// Descriptor returns the credential as a WebAuthn credential descriptor,
// as used in allow and exclude lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transport,
	}
}

// toLibrary converts the credential to the go-webauthn library's type for
// signature verification.
func (c *Credential) toLibrary() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// CeremonyKind discriminates the two WebAuthn ceremonies.
type CeremonyKind string

const (
	// CeremonyRegistration is the credential-creation ceremony.
	CeremonyRegistration CeremonyKind = "registration"

	// CeremonyAuthentication is the assertion ceremony.
	CeremonyAuthentication CeremonyKind = "authentication"
)

// PendingCeremony is the single-use, time-bounded state of a started
// ceremony, held by the ChallengeStore between start and finish.
type PendingCeremony struct {
	// Kind is the ceremony type.
	Kind CeremonyKind

	// Token is the random single-use identifier the client echoes back
	// to finish the ceremony.
	Token string

	// Subject is the username the ceremony was started for.
	Subject string

	// UserHandle is the handle the ceremony options were built with.
	UserHandle []byte

	// DisplayName is the display name supplied at start (registration only).
	DisplayName string

	// Session is the verifier state bound to the issued challenge.
	Session webauthn.SessionData

	// CreatedAt is when the ceremony was started.
	CreatedAt time.Time

	// ExpiresAt is when the ceremony becomes unusable.
	ExpiresAt time.Time
}

// VerifiedCredential is the Verifier's result for a successful
// registration ceremony.
type VerifiedCredential struct {
	ID              []byte
	PublicKey       []byte
	AAGUID          []byte
	SignCount       uint32
	Transport       []protocol.AuthenticatorTransport
	AttestationType string
}

// VerifiedAssertion is the Verifier's result for a successful
// authentication ceremony.
type VerifiedAssertion struct {
	CredentialID []byte
	SignCount    uint32
}

// RegistrationResult is returned by a successful FinishRegistration.
type RegistrationResult struct {
	// User is the credential's owner, created on first registration.
	User *User

	// Credential is the newly registered credential.
	Credential *Credential

	// Token is the post-registration token (JWT when a TokenIssuer is
	// configured, base64url user handle otherwise).
	Token string
}

// AuthenticationResult is returned by a successful FinishAuthentication.
type AuthenticationResult struct {
	// Username is the authenticated user's username.
	Username string

	// UserHandle is the authenticated user's handle.
	UserHandle []byte

	// CredentialID is the credential that produced the assertion.
	CredentialID []byte

	// CloneWarning is set when the reported sign count did not increase
	// over the stored value. The authentication itself succeeded; the
	// caller decides whether to act on the possible cloning signal.
	CloneWarning bool

	// Token is the post-authentication token.
	Token string
}
