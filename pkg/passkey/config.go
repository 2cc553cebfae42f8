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
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Config configures the passkey service.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	// Example: "Example Corp"
	RPDisplayName string `yaml:"display_name" json:"display_name"`

	// RPOrigins are the allowed origins for WebAuthn operations.
	// Example: []string{"https://example.com"}
	RPOrigins []string `yaml:"origins" json:"origins"`

	// CeremonyTTL bounds how long a started ceremony remains valid.
	// Default: 120 seconds.
	CeremonyTTL time.Duration `yaml:"ceremony_ttl" json:"ceremony_ttl"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged"
	// Default: "preferred"
	UserVerification string `yaml:"user_verification" json:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise"
	// Default: "none"
	AttestationPreference string `yaml:"attestation" json:"attestation"`

	// ResidentKeyRequirement specifies whether to request resident keys.
	// Options: "required", "preferred", "discouraged"
	// Default: "preferred"
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key"`

	// AuthenticatorAttachment limits the type of authenticators allowed.
	// Options: "platform", "cross-platform", "" (any)
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment"`

	// Debug enables debug logging in the verification library.
	Debug bool `yaml:"debug" json:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("at least one RPOrigin is required")
	}
	if c.CeremonyTTL < 0 {
		return fmt.Errorf("ceremony TTL must not be negative")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct", "enterprise":
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	}

	switch c.ResidentKeyRequirement {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKeyRequirement)
	}

	switch c.AuthenticatorAttachment {
	case "", "platform", "cross-platform":
	default:
		return fmt.Errorf("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.CeremonyTTL == 0 {
		c.CeremonyTTL = 120 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "preferred"
	}
}

// userVerificationRequirement returns the protocol-level requirement.
func (c *Config) userVerificationRequirement() protocol.UserVerificationRequirement {
	switch c.UserVerification {
	case "required":
		return protocol.VerificationRequired
	case "discouraged":
		return protocol.VerificationDiscouraged
	default:
		return protocol.VerificationPreferred
	}
}

// conveyancePreference returns the protocol-level attestation preference.
func (c *Config) conveyancePreference() protocol.ConveyancePreference {
	switch c.AttestationPreference {
	case "indirect":
		return protocol.PreferIndirectAttestation
	case "direct":
		return protocol.PreferDirectAttestation
	case "enterprise":
		return protocol.PreferEnterpriseAttestation
	default:
		return protocol.PreferNoAttestation
	}
}

// authenticatorSelection returns the protocol-level authenticator
// selection criteria for registration options.
func (c *Config) authenticatorSelection() protocol.AuthenticatorSelection {
	sel := protocol.AuthenticatorSelection{
		UserVerification: c.userVerificationRequirement(),
	}

	switch c.ResidentKeyRequirement {
	case "required":
		sel.ResidentKey = protocol.ResidentKeyRequirementRequired
	case "discouraged":
		sel.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	default:
		sel.ResidentKey = protocol.ResidentKeyRequirementPreferred
	}

	switch c.AuthenticatorAttachment {
	case "platform":
		sel.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		sel.AuthenticatorAttachment = protocol.CrossPlatform
	}

	return sel
}

// credentialParameters returns the COSE algorithms advertised in
// registration options.
func (c *Config) credentialParameters() []protocol.CredentialParameter {
	algs := []webauthncose.COSEAlgorithmIdentifier{
		webauthncose.AlgES256,
		webauthncose.AlgEdDSA,
		webauthncose.AlgRS256,
	}
	params := make([]protocol.CredentialParameter, len(algs))
	for i, alg := range algs {
		params[i] = protocol.CredentialParameter{
			Type:      protocol.PublicKeyCredentialType,
			Algorithm: alg,
		}
	}
	return params
}

// timeoutMillis returns the ceremony TTL in milliseconds for the options
// sent to the client.
func (c *Config) timeoutMillis() int {
	return int(c.CeremonyTTL / time.Millisecond)
}

// ToWebAuthnConfig converts the Config to the go-webauthn library's
// configuration, used by the library-backed Verifier.
func (c *Config) ToWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:          c.RPID,
		RPDisplayName: c.RPDisplayName,
		RPOrigins:     c.RPOrigins,
		Debug:         c.Debug,
	}

	if c.CeremonyTTL > 0 {
		cfg.Timeouts = webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.CeremonyTTL,
				TimeoutUVD: c.CeremonyTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.CeremonyTTL,
				TimeoutUVD: c.CeremonyTTL,
			},
		}
	}

	cfg.AttestationPreference = c.conveyancePreference()
	cfg.AuthenticatorSelection = c.authenticatorSelection()

	return cfg
}
