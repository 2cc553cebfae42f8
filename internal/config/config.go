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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	TLS       TLSConfig        `yaml:"tls"`
	WebAuthn  passkey.Config   `yaml:"webauthn"`
	Storage   StorageConfig    `yaml:"storage"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Auth      AuthConfig       `yaml:"auth"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TLSConfig controls TLS/SSL settings. WebAuthn requires a secure
// context, so production deployments terminate TLS either here or at a
// reverse proxy in front of the server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig selects the credential repository backend
type StorageConfig struct {
	// Driver is "memory" or "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the SQLite data source name, required for the sqlite driver
	DSN string `yaml:"dsn"`
}

// MetricsConfig controls the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig controls post-ceremony token issuance
type AuthConfig struct {
	// JWT enables signed tokens after successful ceremonies. When nil,
	// the server returns bare user handles instead.
	JWT *JWTConfig `yaml:"jwt,omitempty"`
}

// JWTConfig controls JWT issuance
type JWTConfig struct {
	Secret    string   `yaml:"secret"`
	Issuer    string   `yaml:"issuer"`
	Audience  []string `yaml:"audience"`
	ExpiresIn string   `yaml:"expires_in"` // Go duration string, e.g. "1h"
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given:
// an in-memory localhost development server.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8080},
		WebAuthn: passkey.Config{
			RPID:          "localhost",
			RPDisplayName: "go-passkey",
			RPOrigins:     []string{"http://localhost:8080"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	c.WebAuthn.SetDefaults()
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("PASSKEY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpid := os.Getenv("PASSKEY_RP_ID"); rpid != "" {
		cfg.WebAuthn.RPID = rpid
	}
	if origins := os.Getenv("PASSKEY_RP_ORIGINS"); origins != "" {
		cfg.WebAuthn.RPOrigins = strings.Split(origins, ",")
	}

	// Storage
	if driver := os.Getenv("PASSKEY_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dsn := os.Getenv("PASSKEY_STORAGE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}

	// JWT
	if secret := os.Getenv("PASSKEY_JWT_SECRET"); secret != "" {
		if cfg.Auth.JWT == nil {
			cfg.Auth.JWT = &JWTConfig{}
		}
		cfg.Auth.JWT.Secret = secret
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be memory or sqlite)", c.Storage.Driver)
	}

	if c.Auth.JWT != nil && c.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret is required when JWT is configured")
	}

	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	return nil
}
