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

// MemoryChallengeStore is an in-memory implementation of ChallengeStore.
// Consumed tokens are kept as tombstones until their TTL elapses so a
// replay is reported as ErrChallengeConsumed rather than
// ErrChallengeNotFound. There is no background sweep; expired entries are
// reclaimed lazily on the next Put or explicit Cleanup.
type MemoryChallengeStore struct {
	mu        sync.Mutex
	byToken   map[string]*pendingEntry
	bySubject map[string]string // kind+subject -> token

	// now is the clock, overridable in tests.
	now func() time.Time
}

type pendingEntry struct {
	ceremony *PendingCeremony
	consumed bool
}

// NewMemoryChallengeStore creates a new in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		byToken:   make(map[string]*pendingEntry),
		bySubject: make(map[string]string),
		now:       time.Now,
	}
}

// Put stores a pending ceremony. Any prior unfinished ceremony for the
// same subject and kind is superseded: its token becomes unknown, so an
// abandoned start cannot deadlock the subject.
func (s *MemoryChallengeStore) Put(ctx context.Context, ceremony *PendingCeremony) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()

	key := subjectKey(ceremony.Kind, ceremony.Subject)
	if prior, ok := s.bySubject[key]; ok {
		delete(s.byToken, prior)
	}

	s.byToken[ceremony.Token] = &pendingEntry{ceremony: ceremony}
	s.bySubject[key] = ceremony.Token
	return nil
}

// Consume atomically marks the ceremony consumed and returns a copy of it.
// The test-and-set happens under the store lock, so N concurrent callers
// racing on one token see exactly one success.
func (s *MemoryChallengeStore) Consume(ctx context.Context, token string) (*PendingCeremony, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byToken[token]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if entry.consumed {
		return nil, ErrChallengeConsumed
	}
	if s.now().After(entry.ceremony.ExpiresAt) {
		delete(s.byToken, token)
		s.releaseSubjectLocked(entry.ceremony, token)
		return nil, ErrChallengeExpired
	}

	entry.consumed = true
	s.releaseSubjectLocked(entry.ceremony, token)

	ceremony := *entry.ceremony
	return &ceremony, nil
}

// Count returns the number of live (unconsumed, unexpired) ceremonies.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for _, entry := range s.byToken {
		if !entry.consumed && now.Before(entry.ceremony.ExpiresAt) {
			n++
		}
	}
	return n
}

// Cleanup removes expired entries and spent tombstones, returning how
// many were reclaimed.
func (s *MemoryChallengeStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapLocked()
}

func (s *MemoryChallengeStore) reapLocked() int {
	removed := 0
	now := s.now()
	for token, entry := range s.byToken {
		if now.After(entry.ceremony.ExpiresAt) {
			delete(s.byToken, token)
			s.releaseSubjectLocked(entry.ceremony, token)
			removed++
		}
	}
	return removed
}

// releaseSubjectLocked drops the subject mapping if it still points at
// this token, so a superseding ceremony's mapping is left alone.
func (s *MemoryChallengeStore) releaseSubjectLocked(ceremony *PendingCeremony, token string) {
	key := subjectKey(ceremony.Kind, ceremony.Subject)
	if s.bySubject[key] == token {
		delete(s.bySubject, key)
	}
}

func subjectKey(kind CeremonyKind, subject string) string {
	return string(kind) + "\x00" + subject
}
