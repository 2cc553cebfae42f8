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
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// challengeSize is the size in bytes of a ceremony challenge.
const challengeSize = 32

// tokenSize is the size in bytes of a ceremony token before hex encoding.
const tokenSize = 16

// Service orchestrates WebAuthn registration and authentication
// ceremonies. It owns the ceremony state machine and the credential
// bookkeeping; cryptographic verification of authenticator responses is
// delegated to the Verifier collaborator.
type Service struct {
	config     *Config
	repo       CredentialRepository
	challenges ChallengeStore
	verifier   Verifier
	tokens     TokenIssuer
	logger     *slog.Logger

	// now is the clock, overridable in tests.
	now func() time.Time
}

// ServiceParams configures a new Service.
type ServiceParams struct {
	// Config is the relying-party configuration. Required.
	Config *Config

	// Repository persists users and credentials. Required.
	Repository CredentialRepository

	// Challenges holds pending ceremonies. Required.
	Challenges ChallengeStore

	// Verifier validates authenticator responses. Required.
	Verifier Verifier

	// Tokens mints post-ceremony tokens. Optional; when nil the service
	// returns the base64url-encoded user handle instead.
	Tokens TokenIssuer

	// Logger for structured logging. Optional; defaults to slog.Default().
	Logger *slog.Logger
}

// NewService creates a new passkey service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, NewError("new service", ErrNotConfigured)
	}
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Repository == nil {
		return nil, NewError("new service: repository", ErrNotConfigured)
	}
	if params.Challenges == nil {
		return nil, NewError("new service: challenge store", ErrNotConfigured)
	}
	if params.Verifier == nil {
		return nil, NewError("new service: verifier", ErrNotConfigured)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config:     params.Config,
		repo:       params.Repository,
		challenges: params.Challenges,
		verifier:   params.Verifier,
		tokens:     params.Tokens,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// StartRegistration begins a registration ceremony for the given
// username. A username that is already registered gets its existing user
// handle back along with an exclusion list of its credentials, so the
// same authenticator cannot be enrolled twice; anything else gets a
// fresh random handle. No repository state is written until the ceremony
// finishes.
func (s *Service) StartRegistration(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, string, error) {
	if username == "" {
		return nil, "", NewError("start registration", ErrInvalidRequest)
	}

	var (
		handle  []byte
		exclude []protocol.CredentialDescriptor
	)
	existing, err := s.repo.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
		handle = existing.Handle
		if displayName == "" {
			displayName = existing.DisplayName
		}
		for _, cred := range existing.Credentials {
			exclude = append(exclude, cred.Descriptor())
		}
	case IsUserNotFound(err):
		handle, err = randomBytes(UserHandleSize)
		if err != nil {
			return nil, "", WrapError("start registration", err)
		}
	default:
		return nil, "", WrapError("start registration", err)
	}

	challenge, err := randomBytes(challengeSize)
	if err != nil {
		return nil, "", WrapError("start registration", err)
	}
	token, err := newCeremonyToken()
	if err != nil {
		return nil, "", WrapError("start registration", err)
	}

	now := s.now().UTC()
	expires := now.Add(s.config.CeremonyTTL)

	options := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{
					Name: s.config.RPDisplayName,
				},
				ID: s.config.RPID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{
					Name: username,
				},
				DisplayName: coalesce(displayName, username),
				ID:          protocol.URLEncodedBase64(handle),
			},
			Challenge:              protocol.URLEncodedBase64(challenge),
			Parameters:             s.config.credentialParameters(),
			Timeout:                s.config.timeoutMillis(),
			CredentialExcludeList:  exclude,
			AuthenticatorSelection: s.config.authenticatorSelection(),
			Attestation:            s.config.conveyancePreference(),
		},
	}

	ceremony := &PendingCeremony{
		Kind:        CeremonyRegistration,
		Token:       token,
		Subject:     username,
		UserHandle:  handle,
		DisplayName: displayName,
		Session: webauthn.SessionData{
			Challenge:        base64.RawURLEncoding.EncodeToString(challenge),
			UserID:           handle,
			Expires:          expires,
			UserVerification: s.config.userVerificationRequirement(),
		},
		CreatedAt: now,
		ExpiresAt: expires,
	}
	if err := s.challenges.Put(ctx, ceremony); err != nil {
		return nil, "", WrapError("save ceremony", err)
	}

	s.logger.DebugContext(ctx, "registration ceremony started",
		"username", username,
		"existing_user", existing != nil,
		"excluded_credentials", len(exclude))

	return options, token, nil
}

// FinishRegistration completes a registration ceremony. The ceremony
// token is consumed regardless of the outcome; a failed finish requires
// a fresh start. On success the user is created if this was their first
// credential, and the credential is attached in one atomic repository
// step.
func (s *Service) FinishRegistration(ctx context.Context, token, nickname string, response *protocol.ParsedCredentialCreationData) (*RegistrationResult, error) {
	if response == nil {
		return nil, NewError("finish registration", ErrInvalidRequest)
	}

	ceremony, err := s.challenges.Consume(ctx, token)
	if err != nil {
		return nil, WrapError("finish registration", err)
	}
	if ceremony.Kind != CeremonyRegistration {
		return nil, NewError("finish registration", ErrChallengeNotFound)
	}

	verified, err := s.verifier.VerifyRegistration(ctx, ceremony, response)
	if err != nil {
		s.logger.InfoContext(ctx, "registration verification failed",
			"username", ceremony.Subject,
			"error", err)
		return nil, NewError("finish registration", ErrVerificationFailed)
	}

	now := s.now().UTC()
	cred := &Credential{
		ID:              verified.ID,
		Owner:           ceremony.Subject,
		PublicKey:       verified.PublicKey,
		SignCount:       verified.SignCount,
		AAGUID:          verified.AAGUID,
		Transport:       verified.Transport,
		AttestationType: verified.AttestationType,
		Nickname:        nickname,
		CreatedAt:       now,
	}

	user, err := s.repo.AttachCredential(ctx, ceremony.Subject, ceremony.UserHandle, ceremony.DisplayName, cred)
	if err != nil {
		return nil, WrapError("finish registration", err)
	}

	authToken, err := s.issueToken(ctx, user)
	if err != nil {
		return nil, WrapError("finish registration", err)
	}

	s.logger.InfoContext(ctx, "credential registered",
		"username", user.Username,
		"credential_count", len(user.Credentials))

	return &RegistrationResult{
		User:       user,
		Credential: cred,
		Token:      authToken,
	}, nil
}

// StartAuthentication begins an authentication ceremony for the given
// username. The allow-list is resolved here, at start, and frozen into
// the ceremony; credentials added or removed afterwards do not affect an
// in-flight ceremony. An unknown username still receives a
// normal-looking challenge so the response cannot be used to probe for
// account existence.
func (s *Service) StartAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, string, error) {
	if username == "" {
		return nil, "", NewError("start authentication", ErrInvalidRequest)
	}

	credentialIDs, err := s.repo.CredentialIDsForUsername(ctx, username)
	if err != nil {
		return nil, "", WrapError("start authentication", err)
	}
	if len(credentialIDs) == 0 {
		// Decoy allow-list for unknown or credential-less usernames.
		// The finish step will fail generically.
		decoy, derr := randomBytes(challengeSize)
		if derr != nil {
			return nil, "", WrapError("start authentication", derr)
		}
		credentialIDs = [][]byte{decoy}
	}

	allowed := make([]protocol.CredentialDescriptor, 0, len(credentialIDs))
	for _, id := range credentialIDs {
		allowed = append(allowed, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: id,
		})
	}

	challenge, err := randomBytes(challengeSize)
	if err != nil {
		return nil, "", WrapError("start authentication", err)
	}
	token, err := newCeremonyToken()
	if err != nil {
		return nil, "", WrapError("start authentication", err)
	}

	now := s.now().UTC()
	expires := now.Add(s.config.CeremonyTTL)

	options := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          protocol.URLEncodedBase64(challenge),
			Timeout:            s.config.timeoutMillis(),
			RelyingPartyID:     s.config.RPID,
			AllowedCredentials: allowed,
			UserVerification:   s.config.userVerificationRequirement(),
		},
	}

	ceremony := &PendingCeremony{
		Kind:    CeremonyAuthentication,
		Token:   token,
		Subject: username,
		Session: webauthn.SessionData{
			Challenge:            base64.RawURLEncoding.EncodeToString(challenge),
			AllowedCredentialIDs: credentialIDs,
			Expires:              expires,
			UserVerification:     s.config.userVerificationRequirement(),
		},
		CreatedAt: now,
		ExpiresAt: expires,
	}
	if err := s.challenges.Put(ctx, ceremony); err != nil {
		return nil, "", WrapError("save ceremony", err)
	}

	s.logger.DebugContext(ctx, "authentication ceremony started",
		"username", username)

	return options, token, nil
}

// FinishAuthentication completes an authentication ceremony. The sign
// count reported by the authenticator is stored unconditionally; a
// counter that fails to increase is surfaced as CloneWarning on an
// otherwise successful result rather than a rejection.
func (s *Service) FinishAuthentication(ctx context.Context, token string, response *protocol.ParsedCredentialAssertionData) (*AuthenticationResult, error) {
	if response == nil {
		return nil, NewError("finish authentication", ErrInvalidRequest)
	}

	ceremony, err := s.challenges.Consume(ctx, token)
	if err != nil {
		return nil, WrapError("finish authentication", err)
	}
	if ceremony.Kind != CeremonyAuthentication {
		return nil, NewError("finish authentication", ErrChallengeNotFound)
	}

	// A decoy ceremony has a subject with no account behind it; fail
	// the same way a bad signature does.
	owner, err := s.repo.FindUserByUsername(ctx, ceremony.Subject)
	if err != nil {
		if IsUserNotFound(err) {
			return nil, NewError("finish authentication", ErrVerificationFailed)
		}
		return nil, WrapError("finish authentication", err)
	}

	verified, err := s.verifier.VerifyAssertion(ctx, ceremony, owner, response)
	if err != nil {
		s.logger.InfoContext(ctx, "authentication verification failed",
			"username", ceremony.Subject,
			"error", err)
		return nil, NewError("finish authentication", ErrVerificationFailed)
	}

	// The verifier matched the assertion against the owner's
	// credentials, but re-resolve through the repository so a
	// credential deleted mid-ceremony fails here.
	cred, err := s.repo.LookupCredentialForHandle(ctx, verified.CredentialID, owner.Handle)
	if err != nil {
		if IsCredentialNotFound(err) {
			return nil, NewError("finish authentication", ErrVerificationFailed)
		}
		return nil, WrapError("finish authentication", err)
	}

	anomaly, err := s.repo.UpdateSignCount(ctx, cred.ID, verified.SignCount)
	if err != nil {
		return nil, WrapError("finish authentication", err)
	}
	if anomaly {
		s.logger.WarnContext(ctx, "sign count anomaly, possible cloned credential",
			"username", owner.Username,
			"stored_count", cred.SignCount,
			"reported_count", verified.SignCount)
	}

	authToken, err := s.issueToken(ctx, owner)
	if err != nil {
		return nil, WrapError("finish authentication", err)
	}

	s.logger.InfoContext(ctx, "user authenticated",
		"username", owner.Username,
		"clone_warning", anomaly)

	return &AuthenticationResult{
		Username:     owner.Username,
		UserHandle:   owner.Handle,
		CredentialID: verified.CredentialID,
		CloneWarning: anomaly,
		Token:        authToken,
	}, nil
}

// Credentials lists the user's registered credentials in registration
// order.
func (s *Service) Credentials(ctx context.Context, username string) ([]*Credential, error) {
	if username == "" {
		return nil, NewError("list credentials", ErrInvalidRequest)
	}
	creds, err := s.repo.ListCredentials(ctx, username)
	if err != nil {
		return nil, WrapError("list credentials", err)
	}
	return creds, nil
}

// RemoveCredential deletes one of the user's credentials. Removing a
// credential the user does not own, or one that does not exist, returns
// ErrCredentialNotFound.
func (s *Service) RemoveCredential(ctx context.Context, username string, credentialID []byte) error {
	if username == "" || len(credentialID) == 0 {
		return NewError("remove credential", ErrInvalidRequest)
	}
	removed, err := s.repo.DeleteCredential(ctx, username, credentialID)
	if err != nil {
		return WrapError("remove credential", err)
	}
	if !removed {
		return NewError("remove credential", ErrCredentialNotFound)
	}

	s.logger.InfoContext(ctx, "credential removed", "username", username)
	return nil
}

// User retrieves a user by username.
func (s *Service) User(ctx context.Context, username string) (*User, error) {
	user, err := s.repo.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, WrapError("get user", err)
	}
	return user, nil
}

func (s *Service) issueToken(ctx context.Context, user *User) (string, error) {
	if s.tokens == nil {
		return base64.RawURLEncoding.EncodeToString(user.Handle), nil
	}
	return s.tokens.Issue(ctx, user)
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func newCeremonyToken() (string, error) {
	buf, err := randomBytes(tokenSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
