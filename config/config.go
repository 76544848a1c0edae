// Package config loads the hub configuration from a YAML or JSON file,
// expanding environment variables in values.
package config

import (
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/connmgr"
	"github.com/effective-security/mcphub/pkg/llms"
	"github.com/effective-security/mcphub/session"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Config is the top-level hub configuration.
type Config struct {
	// Listen is the address the HTTP API binds to.
	Listen string `json:"listen" yaml:"listen"`

	Session     SessionConfig       `json:"session" yaml:"session"`
	LLM         LLMConfig           `json:"llm" yaml:"llm"`
	Retry       connmgr.RetryPolicy `json:"retry" yaml:"retry"`
	Credentials CredentialsConfig   `json:"credentials" yaml:"credentials"`

	// CallTimeout bounds a single tool execution, including retries.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`

	// RegistryURL is the base URL of the server-discovery registry.
	// Discovery is disabled when empty.
	RegistryURL string `json:"registry_url" yaml:"registry_url" validate:"omitempty,url"`

	// Redis enables persistent chat history when configured.
	Redis *RedisConfig `json:"redis" yaml:"redis"`
}

// SessionConfig controls the session lifecycle.
type SessionConfig struct {
	// Timeout is the inactivity window after which a session expires.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// SweepInterval is how often expired sessions are reaped.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	// VaultKey is the hex-encoded 32-byte key for credential encryption.
	// A random per-process key is generated when empty.
	VaultKey string `json:"vault_key" yaml:"vault_key"`
}

// LLMConfig configures the chat backend. The API key itself is supplied
// per session, never from the file.
type LLMConfig struct {
	Provider   llms.ProviderType `json:"provider" yaml:"provider"`
	BaseURL    string            `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Model      string            `json:"model" yaml:"model"`
	APIVersion string            `json:"api_version" yaml:"api_version"`
	// MaxToolRounds caps the tool-use rounds per chat turn.
	MaxToolRounds int `json:"max_tool_rounds" yaml:"max_tool_rounds" validate:"omitempty,min=1"`
}

// CredentialsConfig controls credential-requirement extraction from tool schemas.
type CredentialsConfig struct {
	// Disabled turns extraction off entirely.
	Disabled bool `json:"disabled" yaml:"disabled"`
	// WellKnownParams overrides the default set of parameter names treated
	// as credentials.
	WellKnownParams []string `json:"well_known_params" yaml:"well_known_params"`
}

// RedisConfig configures the optional Redis backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" validate:"required"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// Load reads, expands and validates the configuration file.
// An empty file name yields the defaults.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		err := configloader.UnmarshalAndExpand(file, cfg)
		if err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8500"
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = session.DefaultTimeout
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = session.DefaultSweepInterval
	}
	if c.Retry == (connmgr.RetryPolicy{}) {
		c.Retry = connmgr.DefaultRetryPolicy
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = connmgr.DefaultCallTimeout
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = llms.ProviderOpenAI
	}
}

// DecodeVaultKey returns the configured vault key, or nil when a random
// per-process key should be used.
func (c *Config) DecodeVaultKey() ([]byte, error) {
	if c.Session.VaultKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Session.VaultKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid vault key")
	}
	return key, nil
}
