// Package config loads engine-wide tunables: plain yaml-tagged structs, defaulted,
// overridable from the environment, and validated before use.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Crypto controls which algorithms CryptoProvider implementations accept.
type Crypto struct {
	AllowedCurves      []string `yaml:"allowed_curves" envconfig:"VC_ALLOWED_CURVES" default:"P-256,P-384,P-521" validate:"required,min=1"`
	AllowedJWSAlgs     []string `yaml:"allowed_jws_algs" envconfig:"VC_ALLOWED_JWS_ALGS" default:"ES256,ES384,ES512" validate:"required,min=1"`
	AllowLegacyRSAPKCS bool     `yaml:"allow_legacy_rsa_pkcs1v15" envconfig:"VC_ALLOW_LEGACY_RSA"`
}

// Validity controls default lifetime windows used when issuing credentials and when
// checking them back.
type Validity struct {
	DefaultCredentialTTL time.Duration `yaml:"default_credential_ttl" envconfig:"VC_DEFAULT_CREDENTIAL_TTL" default:"8760h" validate:"required"`
	Leeway               time.Duration `yaml:"leeway" envconfig:"VC_LEEWAY" default:"30s"`
}

// Protocol controls OpenID4VP state tracking.
type Protocol struct {
	NonceTTL          time.Duration `yaml:"nonce_ttl" envconfig:"VC_NONCE_TTL" default:"10m" validate:"required"`
	StateTTL          time.Duration `yaml:"state_ttl" envconfig:"VC_STATE_TTL" default:"10m" validate:"required"`
	EphemeralKeyTTL   time.Duration `yaml:"ephemeral_key_ttl" envconfig:"VC_EPHEMERAL_KEY_TTL" default:"10m"`
	RequestObjectTTL  time.Duration `yaml:"request_object_ttl" envconfig:"VC_REQUEST_OBJECT_TTL" default:"10m"`
}

// Status controls the bit-indexed revocation list default shape.
type Status struct {
	ListBits int `yaml:"list_bits" envconfig:"VC_STATUS_LIST_BITS" default:"131072" validate:"required,min=8"` // 2^17
}

// Log controls the telemetry logger.
type Log struct {
	Production bool `yaml:"production" envconfig:"VC_LOG_PRODUCTION"`
}

// Config is the engine's full ambient configuration tree.
type Config struct {
	Crypto   Crypto   `yaml:"crypto"`
	Validity Validity `yaml:"validity"`
	Protocol Protocol `yaml:"protocol"`
	Status   Status   `yaml:"status"`
	Log      Log      `yaml:"log"`
}

// Load reads path (if non-empty), applies struct defaults, overlays environment
// variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with struct defaults only, for tests and for
// callers that do not need file/env overrides.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err) // defaults must always validate; a failure here is a programming error
	}
	return cfg
}
