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
)

// CredentialRepository is the durable multi-index store of users and their
// credentials. Implementations must be safe under concurrent callers and
// must update the username/handle indices and a user's credential
// collection as one atomic unit; a reader never observes one updated
// without the other.
type CredentialRepository interface {
	// FindUserByUsername retrieves a user by username.
	// Returns ErrUserNotFound if the user does not exist.
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// FindUserByHandle retrieves a user by user handle.
	// Returns ErrUserNotFound if the user does not exist.
	FindUserByHandle(ctx context.Context, handle []byte) (*User, error)

	// CredentialIDsForUsername returns the credential IDs registered for
	// a username. An unknown username yields an empty slice, not an
	// error, so ceremony start cannot leak account existence through
	// error shape.
	CredentialIDsForUsername(ctx context.Context, username string) ([][]byte, error)

	// LookupCredential retrieves a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	LookupCredential(ctx context.Context, credentialID []byte) (*Credential, error)

	// LookupCredentialForHandle retrieves a credential by its ID,
	// returning ErrCredentialNotFound when the credential exists but
	// belongs to a user with a different handle.
	LookupCredentialForHandle(ctx context.Context, credentialID, handle []byte) (*Credential, error)

	// CreateUser creates a new user. Fails with ErrDuplicateUsername or
	// ErrDuplicateUserHandle on index conflicts.
	CreateUser(ctx context.Context, username string, handle []byte, displayName string) (*User, error)

	// AddCredential attaches a credential to an existing user. Fails
	// with ErrDuplicateCredentialID if the ID exists anywhere in the
	// repository and ErrUserNotFound if the owner does not exist.
	AddCredential(ctx context.Context, username string, cred *Credential) error

	// AttachCredential atomically fetches or creates the user and
	// attaches the credential, so that two concurrent first-time
	// registrations for the same username cannot both create a user and
	// a rejected credential never leaves a dangling zero-credential
	// user behind.
	AttachCredential(ctx context.Context, username string, handle []byte, displayName string, cred *Credential) (*User, error)

	// UpdateSignCount stores the reported sign count and reports whether
	// the update is anomalous (possible credential cloning). The value
	// is stored either way; acting on the anomaly is the caller's
	// decision. Returns ErrCredentialNotFound if the credential is absent.
	UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32) (anomaly bool, err error)

	// DeleteCredential removes a credential from both the global index
	// and the owner's collection atomically, reporting whether anything
	// was removed. A credential owned by a different user is left
	// untouched and false is returned.
	DeleteCredential(ctx context.Context, username string, credentialID []byte) (bool, error)

	// ListCredentials returns the user's credentials in registration
	// order. Returns ErrUserNotFound if the user does not exist.
	ListCredentials(ctx context.Context, username string) ([]*Credential, error)
}

// ChallengeStore holds pending ceremonies between start and finish.
// Entries are single-use and time-bounded; expiry is evaluated lazily at
// consume time rather than by a background sweep.
type ChallengeStore interface {
	// Put stores a pending ceremony, superseding any prior unfinished
	// ceremony for the same subject and kind.
	Put(ctx context.Context, ceremony *PendingCeremony) error

	// Consume atomically marks the ceremony consumed and returns it.
	// Fails with ErrChallengeNotFound for unknown tokens,
	// ErrChallengeConsumed on replay and ErrChallengeExpired past the
	// TTL. This is the sole replay-prevention mechanism; the
	// test-and-set must be a single atomic step.
	Consume(ctx context.Context, token string) (*PendingCeremony, error)
}

// Verifier performs the cryptographic verification of authenticator
// responses. The ceremony core treats it as an opaque external
// collaborator; the production implementation wraps the go-webauthn
// library, and tests substitute a fake.
type Verifier interface {
	// VerifyRegistration checks an attestation response against the
	// ceremony's stored state and returns the new credential.
	VerifyRegistration(ctx context.Context, ceremony *PendingCeremony, response *protocol.ParsedCredentialCreationData) (*VerifiedCredential, error)

	// VerifyAssertion checks an assertion response against the
	// ceremony's stored state and the owner's registered credentials.
	VerifyAssertion(ctx context.Context, ceremony *PendingCeremony, owner *User, response *protocol.ParsedCredentialAssertionData) (*VerifiedAssertion, error)
}

// TokenIssuer is an optional collaborator for minting tokens after a
// successful ceremony. When absent, the service returns the
// base64url-encoded user handle.
type TokenIssuer interface {
	// Issue creates a token for the given user.
	Issue(ctx context.Context, user *User) (string, error)
}
