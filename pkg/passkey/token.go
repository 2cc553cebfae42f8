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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTIssuer implements TokenIssuer, minting HMAC-signed JWTs after a
// successful ceremony.
type JWTIssuer struct {
	// key is the HMAC signing key
	key []byte
	// issuer is the JWT issuer claim
	issuer string
	// audience is the JWT audience claim
	audience []string
	// expiresIn is how long tokens are valid
	expiresIn time.Duration
}

// JWTIssuerConfig contains configuration for the JWT issuer.
type JWTIssuerConfig struct {
	// Key is the HMAC signing key (required)
	Key []byte
	// Issuer is the JWT issuer claim (default: "go-passkey")
	Issuer string
	// Audience is the JWT audience claim (default: ["go-passkey"])
	Audience []string
	// ExpiresIn is how long tokens are valid (default: 1 hour)
	ExpiresIn time.Duration
}

// NewJWTIssuer creates a new JWT issuer with the given configuration.
func NewJWTIssuer(config *JWTIssuerConfig) (*JWTIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.Key) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}

	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey"}
	}

	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &JWTIssuer{
		key:       config.Key,
		issuer:    issuer,
		audience:  audience,
		expiresIn: expiresIn,
	}, nil
}

// Issue creates a JWT for the authenticated user. The subject is the
// base64url-encoded user handle, never the username.
func (g *JWTIssuer) Issue(ctx context.Context, user *User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss": g.issuer,
		"aud": g.audience,
		"sub": base64.RawURLEncoding.EncodeToString(user.Handle),
		"iat": now.Unix(),
		"exp": now.Add(g.expiresIn).Unix(),
		"nbf": now.Unix(),
		// Custom claims
		"username": user.Username,
		"name":     user.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.key)
}

// Verify parses and validates a token issued by Issue, returning its
// claims.
func (g *JWTIssuer) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.key, nil
	}, jwt.WithIssuer(g.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
