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
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_Clone(t *testing.T) {
	original := &User{
		Username:    "alice",
		Handle:      []byte{1, 2, 3},
		DisplayName: "Alice",
		Credentials: []*Credential{
			{ID: []byte("cred-1"), Owner: "alice", PublicKey: []byte("pk"), SignCount: 7},
		},
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	// Mutating the clone must not leak back into the original.
	clone.Handle[0] = 99
	clone.Credentials[0].ID[0] = 'X'
	clone.Credentials[0].SignCount = 42

	assert.Equal(t, []byte{1, 2, 3}, original.Handle)
	assert.Equal(t, []byte("cred-1"), original.Credentials[0].ID)
	assert.Equal(t, uint32(7), original.Credentials[0].SignCount)
}

func TestUser_Clone_Nil(t *testing.T) {
	var u *User
	assert.Nil(t, u.Clone())
}

func TestCredential_Clone(t *testing.T) {
	now := time.Now().UTC()
	original := &Credential{
		ID:              []byte("cred-1"),
		Owner:           "alice",
		PublicKey:       []byte("public-key"),
		SignCount:       3,
		AAGUID:          []byte("0123456789abcdef"),
		Transport:       []protocol.AuthenticatorTransport{protocol.USB, protocol.Internal},
		AttestationType: "none",
		Nickname:        "yubikey",
		CreatedAt:       now,
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	clone.ID[0] = 'X'
	clone.PublicKey[0] = 'X'
	clone.AAGUID[0] = 'X'
	clone.Transport[0] = protocol.NFC

	assert.Equal(t, []byte("cred-1"), original.ID)
	assert.Equal(t, []byte("public-key"), original.PublicKey)
	assert.Equal(t, []byte("0123456789abcdef"), original.AAGUID)
	assert.Equal(t, protocol.USB, original.Transport[0])
}

func TestCredential_Clone_Nil(t *testing.T) {
	var c *Credential
	assert.Nil(t, c.Clone())
}

func TestCredential_Descriptor(t *testing.T) {
	cred := &Credential{
		ID:        []byte("cred-1"),
		Transport: []protocol.AuthenticatorTransport{protocol.USB},
	}

	desc := cred.Descriptor()
	assert.Equal(t, protocol.PublicKeyCredentialType, desc.Type)
	assert.Equal(t, []byte("cred-1"), []byte(desc.CredentialID))
	assert.Equal(t, cred.Transport, desc.Transport)
}

func TestCredential_ToLibrary(t *testing.T) {
	cred := &Credential{
		ID:              []byte("cred-1"),
		PublicKey:       []byte("pk"),
		SignCount:       5,
		AAGUID:          []byte("aaguid-16-bytes!"),
		Transport:       []protocol.AuthenticatorTransport{protocol.Internal},
		AttestationType: "packed",
	}

	lib := cred.toLibrary()
	assert.Equal(t, cred.ID, lib.ID)
	assert.Equal(t, cred.PublicKey, lib.PublicKey)
	assert.Equal(t, cred.AttestationType, lib.AttestationType)
	assert.Equal(t, cred.Transport, lib.Transport)
	assert.Equal(t, cred.AAGUID, lib.Authenticator.AAGUID)
	assert.Equal(t, cred.SignCount, lib.Authenticator.SignCount)
}

func TestUserHandleSize(t *testing.T) {
	assert.Equal(t, 32, UserHandleSize)
}

func TestSignCountRegressed(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		reported uint32
		expected bool
	}{
		{"increase is clean", 5, 6, false},
		{"large jump is clean", 5, 1000, false},
		{"decrease is anomalous", 5, 4, true},
		{"equal is anomalous", 5, 5, true},
		{"counterless authenticator", 0, 0, false},
		{"first increment from zero", 0, 1, false},
		{"regression to zero", 7, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SignCountRegressed(tt.stored, tt.reported))
		})
	}
}
