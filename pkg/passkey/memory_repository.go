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
	"sync"
	"time"
)

// MemoryRepository is an in-memory implementation of CredentialRepository.
// All three indices (username, user handle, credential ID) are guarded by
// one RWMutex so multi-index writes are observed atomically; reads run
// concurrently. Returned users and credentials are deep copies.
type MemoryRepository struct {
	mu         sync.RWMutex
	byUsername map[string]*User
	byHandle   map[string]string // handle -> username
	byCredID   map[string]string // credential ID -> username
}

// NewMemoryRepository creates a new in-memory credential repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byUsername: make(map[string]*User),
		byHandle:   make(map[string]string),
		byCredID:   make(map[string]string),
	}
}

// FindUserByUsername retrieves a user by username.
func (r *MemoryRepository) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user.Clone(), nil
}

// FindUserByHandle retrieves a user by user handle.
func (r *MemoryRepository) FindUserByHandle(ctx context.Context, handle []byte) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.byHandle[string(handle)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return r.byUsername[username].Clone(), nil
}

// CredentialIDsForUsername returns the credential IDs registered for a
// username, in registration order. Unknown usernames yield an empty slice.
func (r *MemoryRepository) CredentialIDsForUsername(ctx context.Context, username string) ([][]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byUsername[username]
	if !ok {
		return [][]byte{}, nil
	}
	ids := make([][]byte, len(user.Credentials))
	for i, c := range user.Credentials {
		ids[i] = append([]byte(nil), c.ID...)
	}
	return ids, nil
}

// LookupCredential retrieves a credential by its ID.
func (r *MemoryRepository) LookupCredential(ctx context.Context, credentialID []byte) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred := r.credentialLocked(credentialID)
	if cred == nil {
		return nil, ErrCredentialNotFound
	}
	return cred.Clone(), nil
}

// LookupCredentialForHandle retrieves a credential by its ID only when its
// owner's handle matches the expected one. A credential belonging to a
// different user is indistinguishable from an absent one.
func (r *MemoryRepository) LookupCredentialForHandle(ctx context.Context, credentialID, handle []byte) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.byCredID[string(credentialID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	owner := r.byUsername[username]
	if string(owner.Handle) != string(handle) {
		return nil, ErrCredentialNotFound
	}
	return r.credentialLocked(credentialID).Clone(), nil
}

// CreateUser creates a new user with no credentials.
func (r *MemoryRepository) CreateUser(ctx context.Context, username string, handle []byte, displayName string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, err := r.createUserLocked(username, handle, displayName)
	if err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

// AddCredential attaches a credential to an existing user, updating the
// global credential index and the owner's collection as one unit.
func (r *MemoryRepository) AddCredential(ctx context.Context, username string, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCredID[string(cred.ID)]; ok {
		return ErrDuplicateCredentialID
	}
	user, ok := r.byUsername[username]
	if !ok {
		return ErrUserNotFound
	}
	r.attachLocked(user, cred)
	return nil
}

// AttachCredential atomically fetches or creates the user and attaches the
// credential. The duplicate-credential check runs before any user creation
// so a rejected credential never leaves a zero-credential user behind.
func (r *MemoryRepository) AttachCredential(ctx context.Context, username string, handle []byte, displayName string, cred *Credential) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCredID[string(cred.ID)]; ok {
		return nil, ErrDuplicateCredentialID
	}

	user, ok := r.byUsername[username]
	if !ok {
		created, err := r.createUserLocked(username, handle, displayName)
		if err != nil {
			return nil, err
		}
		user = created
	}

	r.attachLocked(user, cred)
	return user.Clone(), nil
}

// UpdateSignCount stores the reported sign count. The update is flagged as
// anomalous when the counter fails to increase while either value is
// non-zero; authenticators without counters always report zero and are
// never flagged.
func (r *MemoryRepository) UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred := r.credentialLocked(credentialID)
	if cred == nil {
		return false, ErrCredentialNotFound
	}

	anomaly := SignCountRegressed(cred.SignCount, signCount)
	cred.SignCount = signCount
	cred.LastUsedAt = time.Now().UTC()
	return anomaly, nil
}

// DeleteCredential removes a credential from the global index and the
// owner's collection atomically. Returns false without touching anything
// if the credential is absent or owned by a different user.
func (r *MemoryRepository) DeleteCredential(ctx context.Context, username string, credentialID []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.byCredID[string(credentialID)]
	if !ok || owner != username {
		return false, nil
	}

	user := r.byUsername[owner]
	for i, c := range user.Credentials {
		if string(c.ID) == string(credentialID) {
			user.Credentials = append(user.Credentials[:i], user.Credentials[i+1:]...)
			break
		}
	}
	delete(r.byCredID, string(credentialID))
	return true, nil
}

// ListCredentials returns the user's credentials in registration order.
func (r *MemoryRepository) ListCredentials(ctx context.Context, username string) ([]*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	creds := make([]*Credential, len(user.Credentials))
	for i, c := range user.Credentials {
		creds[i] = c.Clone()
	}
	return creds, nil
}

// UserCount returns the number of users in the repository.
func (r *MemoryRepository) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUsername)
}

// CredentialCount returns the number of credentials in the repository.
func (r *MemoryRepository) CredentialCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCredID)
}

// credentialLocked returns the stored credential, or nil. Callers hold the lock.
func (r *MemoryRepository) credentialLocked(credentialID []byte) *Credential {
	username, ok := r.byCredID[string(credentialID)]
	if !ok {
		return nil
	}
	for _, c := range r.byUsername[username].Credentials {
		if string(c.ID) == string(credentialID) {
			return c
		}
	}
	return nil
}

func (r *MemoryRepository) createUserLocked(username string, handle []byte, displayName string) (*User, error) {
	if _, ok := r.byUsername[username]; ok {
		return nil, ErrDuplicateUsername
	}
	if _, ok := r.byHandle[string(handle)]; ok {
		return nil, ErrDuplicateUserHandle
	}

	user := &User{
		Username:    username,
		Handle:      append([]byte(nil), handle...),
		DisplayName: displayName,
	}
	r.byUsername[username] = user
	r.byHandle[string(handle)] = username
	return user, nil
}

func (r *MemoryRepository) attachLocked(user *User, cred *Credential) {
	stored := cred.Clone()
	stored.Owner = user.Username
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	user.Credentials = append(user.Credentials, stored)
	r.byCredID[string(stored.ID)] = user.Username
}

// SignCountRegressed reports whether a reported counter value fails the
// monotonicity expectation against the stored one. Authenticators that
// never implement a counter report zero on both sides, which is not an
// anomaly. All CredentialRepository implementations apply this policy in
// UpdateSignCount.
func SignCountRegressed(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return false
	}
	return reported <= stored
}
