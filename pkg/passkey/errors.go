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
	"errors"
	"fmt"
)

// Sentinel errors for ceremony and repository operations.
var (
	// ErrDuplicateUsername is returned when creating a user whose username
	// is already taken.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrDuplicateUserHandle is returned when a generated user handle
	// collides with an existing one.
	ErrDuplicateUserHandle = errors.New("user handle already exists")

	// ErrDuplicateCredentialID is returned when registering a credential
	// whose ID is already known anywhere in the repository.
	ErrDuplicateCredentialID = errors.New("credential already registered")

	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrChallengeNotFound is returned when a ceremony token is unknown.
	ErrChallengeNotFound = errors.New("ceremony not found")

	// ErrChallengeConsumed is returned when a ceremony token is replayed.
	ErrChallengeConsumed = errors.New("ceremony already consumed")

	// ErrChallengeExpired is returned when a ceremony token is past its TTL.
	ErrChallengeExpired = errors.New("ceremony expired")

	// ErrVerificationFailed wraps a failure reported by the Verifier.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrInvalidRequest is returned when a request is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// Error wraps an error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with the given operation and error.
func NewError(op string, err error) error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsChallengeNotFound returns true if the error indicates a ceremony token was unknown.
func IsChallengeNotFound(err error) bool {
	return errors.Is(err, ErrChallengeNotFound)
}

// IsChallengeConsumed returns true if the error indicates a ceremony token was replayed.
func IsChallengeConsumed(err error) bool {
	return errors.Is(err, ErrChallengeConsumed)
}

// IsChallengeExpired returns true if the error indicates a ceremony token expired.
func IsChallengeExpired(err error) bool {
	return errors.Is(err, ErrChallengeExpired)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// IsDuplicate returns true if the error is any of the integrity-conflict errors.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateUsername) ||
		errors.Is(err, ErrDuplicateUserHandle) ||
		errors.Is(err, ErrDuplicateCredentialID)
}
