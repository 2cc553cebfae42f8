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
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifier returns canned results so ceremony orchestration can be
// tested without real authenticator responses.
type fakeVerifier struct {
	registration    *VerifiedCredential
	registrationErr error
	assertion       *VerifiedAssertion
	assertionErr    error

	lastRegistrationCeremony *PendingCeremony
	lastAssertionCeremony    *PendingCeremony
	lastAssertionOwner       *User
}

func (f *fakeVerifier) VerifyRegistration(ctx context.Context, ceremony *PendingCeremony, response *protocol.ParsedCredentialCreationData) (*VerifiedCredential, error) {
	f.lastRegistrationCeremony = ceremony
	if f.registrationErr != nil {
		return nil, f.registrationErr
	}
	return f.registration, nil
}

func (f *fakeVerifier) VerifyAssertion(ctx context.Context, ceremony *PendingCeremony, owner *User, response *protocol.ParsedCredentialAssertionData) (*VerifiedAssertion, error) {
	f.lastAssertionCeremony = ceremony
	f.lastAssertionOwner = owner
	if f.assertionErr != nil {
		return nil, f.assertionErr
	}
	return f.assertion, nil
}

type staticTokenIssuer struct {
	token string
	err   error
}

func (s *staticTokenIssuer) Issue(ctx context.Context, user *User) (string, error) {
	return s.token, s.err
}

func newTestService(t *testing.T, verifier Verifier, tokens TokenIssuer) (*Service, *MemoryRepository, *MemoryChallengeStore) {
	t.Helper()
	repo := NewMemoryRepository()
	challenges := NewMemoryChallengeStore()
	svc, err := NewService(ServiceParams{
		Config: &Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{"https://example.com"},
		},
		Repository: repo,
		Challenges: challenges,
		Verifier:   verifier,
		Tokens:     tokens,
	})
	require.NoError(t, err)
	return svc, repo, challenges
}

func registerTestUser(t *testing.T, svc *Service, verifier *fakeVerifier, username, credID string) *RegistrationResult {
	t.Helper()
	ctx := context.Background()

	_, token, err := svc.StartRegistration(ctx, username, "")
	require.NoError(t, err)

	verifier.registration = &VerifiedCredential{
		ID:        []byte(credID),
		PublicKey: []byte("pk-" + credID),
		SignCount: 0,
	}
	result, err := svc.FinishRegistration(ctx, token, "", &protocol.ParsedCredentialCreationData{})
	require.NoError(t, err)
	return result
}

func TestNewService_RequiredParams(t *testing.T) {
	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}
	repo := NewMemoryRepository()
	challenges := NewMemoryChallengeStore()
	verifier := &fakeVerifier{}

	tests := []struct {
		name   string
		params ServiceParams
	}{
		{"missing config", ServiceParams{Repository: repo, Challenges: challenges, Verifier: verifier}},
		{"missing repository", ServiceParams{Config: cfg, Challenges: challenges, Verifier: verifier}},
		{"missing challenge store", ServiceParams{Config: cfg, Repository: repo, Verifier: verifier}},
		{"missing verifier", ServiceParams{Config: cfg, Repository: repo, Challenges: challenges}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.params)
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestService_StartRegistration(t *testing.T) {
	svc, _, challenges := newTestService(t, &fakeVerifier{}, nil)
	ctx := context.Background()

	options, token, err := svc.StartRegistration(ctx, "alice", "Alice")
	require.NoError(t, err)
	require.NotNil(t, options)
	assert.NotEmpty(t, token)

	assert.Equal(t, "example.com", options.Response.RelyingParty.ID)
	assert.Equal(t, "Example", options.Response.RelyingParty.Name)
	assert.Equal(t, "alice", options.Response.User.Name)
	assert.Equal(t, "Alice", options.Response.User.DisplayName)
	assert.Len(t, options.Response.User.ID.(protocol.URLEncodedBase64), UserHandleSize)
	assert.Len(t, []byte(options.Response.Challenge), challengeSize)
	assert.NotEmpty(t, options.Response.Parameters)
	assert.Empty(t, options.Response.CredentialExcludeList)

	assert.Equal(t, 1, challenges.Count())
}

func TestService_StartRegistration_EmptyUsername(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)

	_, _, err := svc.StartRegistration(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_StartRegistration_ExistingUser(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	first := registerTestUser(t, svc, verifier, "alice", "cred-1")

	// A second registration for the same username reuses the stored
	// handle and excludes the registered credential.
	options, _, err := svc.StartRegistration(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, first.User.Handle, []byte(options.Response.User.ID.(protocol.URLEncodedBase64)))
	require.Len(t, options.Response.CredentialExcludeList, 1)
	assert.Equal(t, []byte("cred-1"), []byte(options.Response.CredentialExcludeList[0].CredentialID))
}

func TestService_FinishRegistration(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, repo, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	_, token, err := svc.StartRegistration(ctx, "alice", "Alice")
	require.NoError(t, err)

	verifier.registration = &VerifiedCredential{
		ID:              []byte("cred-1"),
		PublicKey:       []byte("pk"),
		SignCount:       0,
		AttestationType: "none",
	}
	result, err := svc.FinishRegistration(ctx, token, "my passkey", &protocol.ParsedCredentialCreationData{})
	require.NoError(t, err)

	assert.Equal(t, "alice", result.User.Username)
	assert.Len(t, result.User.Handle, UserHandleSize)
	assert.Equal(t, []byte("cred-1"), result.Credential.ID)
	assert.Equal(t, "my passkey", result.Credential.Nickname)

	// No token issuer configured: the result token is the base64url
	// user handle.
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(result.User.Handle), result.Token)

	assert.Equal(t, 1, repo.UserCount())
	assert.Equal(t, 1, repo.CredentialCount())
}

func TestService_FinishRegistration_VerifierFailure(t *testing.T) {
	verifier := &fakeVerifier{registrationErr: errors.New("bad attestation")}
	svc, repo, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	_, token, err := svc.StartRegistration(ctx, "alice", "")
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, token, "", &protocol.ParsedCredentialCreationData{})
	assert.ErrorIs(t, err, ErrVerificationFailed)

	// No repository writes on failure, and the token is spent.
	assert.Equal(t, 0, repo.UserCount())
	_, err = svc.FinishRegistration(ctx, token, "", &protocol.ParsedCredentialCreationData{})
	assert.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestService_FinishRegistration_UnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)

	_, err := svc.FinishRegistration(context.Background(), "bogus", "", &protocol.ParsedCredentialCreationData{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestService_FinishRegistration_NilResponse(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)

	_, err := svc.FinishRegistration(context.Background(), "token", "", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_FinishRegistration_KindMismatch(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	// An authentication token handed to FinishRegistration does not
	// reveal which ceremony kind it belongs to.
	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, token, "", &protocol.ParsedCredentialCreationData{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestService_StartAuthentication(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	options, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "example.com", options.Response.RelyingPartyID)
	assert.Len(t, []byte(options.Response.Challenge), challengeSize)
	require.Len(t, options.Response.AllowedCredentials, 1)
	assert.Equal(t, []byte("cred-1"), []byte(options.Response.AllowedCredentials[0].CredentialID))
}

func TestService_StartAuthentication_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)
	ctx := context.Background()

	// Unknown usernames get a normal-looking challenge with one random
	// decoy credential so account existence cannot be probed.
	options, token, err := svc.StartAuthentication(ctx, "nobody")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	require.Len(t, options.Response.AllowedCredentials, 1)
	assert.Len(t, []byte(options.Response.AllowedCredentials[0].CredentialID), challengeSize)
}

func TestService_StartAuthentication_EmptyUsername(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)

	_, _, err := svc.StartAuthentication(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_FinishAuthentication(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	reg := registerTestUser(t, svc, verifier, "alice", "cred-1")

	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	verifier.assertion = &VerifiedAssertion{CredentialID: []byte("cred-1"), SignCount: 1}
	result, err := svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	require.NoError(t, err)

	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, reg.User.Handle, result.UserHandle)
	assert.Equal(t, []byte("cred-1"), result.CredentialID)
	assert.False(t, result.CloneWarning)
	assert.NotEmpty(t, result.Token)

	// The verifier saw the owner with their credentials attached.
	require.NotNil(t, verifier.lastAssertionOwner)
	assert.Len(t, verifier.lastAssertionOwner.Credentials, 1)

	// The stored sign count advanced.
	cred, err := svc.Credentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cred[0].SignCount)
}

func TestService_FinishAuthentication_CloneWarning(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, repo, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")
	_, err := repo.UpdateSignCount(ctx, []byte("cred-1"), 10)
	require.NoError(t, err)

	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	// A sign count at or below the stored value flags cloning but the
	// authentication still succeeds.
	verifier.assertion = &VerifiedAssertion{CredentialID: []byte("cred-1"), SignCount: 3}
	result, err := svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	require.NoError(t, err)
	assert.True(t, result.CloneWarning)

	// The reported value is stored even though it regressed.
	cred, err := repo.LookupCredential(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cred.SignCount)
}

func TestService_FinishAuthentication_DecoyCeremony(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)
	ctx := context.Background()

	_, token, err := svc.StartAuthentication(ctx, "nobody")
	require.NoError(t, err)

	// Finishing a decoy ceremony fails the same way a bad signature
	// does, regardless of the submitted response.
	_, err = svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestService_FinishAuthentication_VerifierFailure(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	verifier.assertionErr = errors.New("signature mismatch")
	_, err = svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestService_FinishAuthentication_CredentialDeletedMidCeremony(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveCredential(ctx, "alice", []byte("cred-1")))

	verifier.assertion = &VerifiedAssertion{CredentialID: []byte("cred-1"), SignCount: 1}
	_, err = svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestService_FinishAuthentication_KindMismatch(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeVerifier{}, nil)
	ctx := context.Background()

	_, token, err := svc.StartRegistration(ctx, "alice", "")
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestService_FinishAuthentication_ExpiredCeremony(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, challenges := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	challenges.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err = svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestService_TokenIssuer(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, &staticTokenIssuer{token: "signed-jwt"})
	ctx := context.Background()

	result := registerTestUser(t, svc, verifier, "alice", "cred-1")
	assert.Equal(t, "signed-jwt", result.Token)

	_, token, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)
	verifier.assertion = &VerifiedAssertion{CredentialID: []byte("cred-1"), SignCount: 1}
	auth, err := svc.FinishAuthentication(ctx, token, &protocol.ParsedCredentialAssertionData{})
	require.NoError(t, err)
	assert.Equal(t, "signed-jwt", auth.Token)
}

func TestService_RemoveCredential(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	err := svc.RemoveCredential(ctx, "alice", []byte("unknown"))
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	err = svc.RemoveCredential(ctx, "", []byte("cred-1"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	require.NoError(t, svc.RemoveCredential(ctx, "alice", []byte("cred-1")))

	creds, err := svc.Credentials(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestService_User(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)

	_, err := svc.User(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	user, err := svc.User(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestService_StartAuthentication_SupersedesPrior(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _, _ := newTestService(t, verifier, nil)
	ctx := context.Background()

	registerTestUser(t, svc, verifier, "alice", "cred-1")

	_, firstToken, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)
	_, secondToken, err := svc.StartAuthentication(ctx, "alice")
	require.NoError(t, err)

	verifier.assertion = &VerifiedAssertion{CredentialID: []byte("cred-1"), SignCount: 1}

	_, err = svc.FinishAuthentication(ctx, firstToken, &protocol.ParsedCredentialAssertionData{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	_, err = svc.FinishAuthentication(ctx, secondToken, &protocol.ParsedCredentialAssertionData{})
	assert.NoError(t, err)
}
