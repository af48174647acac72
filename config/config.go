// Package config loads auth client settings from YAML or JSON.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-authstate/cognito"
	apperrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const ErrCodeInvalidConfig = "CONFIG_INVALID"

const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// Config describes one user pool / identity pool pairing.
type Config struct {
	Region          string         `json:"region" yaml:"region"`
	UserPool        UserPoolConfig `json:"user_pool" yaml:"user_pool"`
	IdentityPool    IdentityConfig `json:"identity_pool,omitempty" yaml:"identity_pool,omitempty"`
	AuthFlow        string         `json:"auth_flow,omitempty" yaml:"auth_flow,omitempty"`
	CredentialStore StoreConfig    `json:"credential_store,omitempty" yaml:"credential_store,omitempty"`
	Refresh         RefreshConfig  `json:"refresh,omitempty" yaml:"refresh,omitempty"`
	Retry           RetryConfig    `json:"retry,omitempty" yaml:"retry,omitempty"`
	Log             LogConfig      `json:"log,omitempty" yaml:"log,omitempty"`
	Session         SessionConfig  `json:"session,omitempty" yaml:"session,omitempty"`
	Meta            map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

type UserPoolConfig struct {
	PoolID       string `json:"pool_id" yaml:"pool_id"`
	AppClientID  string `json:"app_client_id" yaml:"app_client_id"`
	ClientSecret string `json:"app_client_secret,omitempty" yaml:"app_client_secret,omitempty"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

type IdentityConfig struct {
	PoolID string `json:"pool_id,omitempty" yaml:"pool_id,omitempty"`
}

type StoreConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

type RefreshConfig struct {
	Enabled  bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Schedule string        `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Window   time.Duration `json:"window,omitempty" yaml:"window,omitempty"`
}

type RetryConfig struct {
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Base       time.Duration `json:"base,omitempty" yaml:"base,omitempty"`
	Factor     float64       `json:"factor,omitempty" yaml:"factor,omitempty"`
	Max        time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// SessionConfig tunes expiry handling.
type SessionConfig struct {
	// ExpiryBuffer treats tokens and credentials as expired this long before
	// their actual expiry.
	ExpiryBuffer time.Duration `json:"expiry_buffer,omitempty" yaml:"expiry_buffer,omitempty"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		AuthFlow:        string(cognito.AuthFlowUserSRP),
		CredentialStore: StoreConfig{Driver: StoreMemory, Bucket: "credentials"},
		Refresh:         RefreshConfig{Schedule: "@every 1m", Window: 5 * time.Minute},
		Retry:           RetryConfig{Base: 100 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
		Log:             LogConfig{Level: "info", Format: "json"},
		Session:         SessionConfig{ExpiryBuffer: 30 * time.Second},
	}
}

// Parse decodes YAML or JSON over Defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	// yaml can handle JSON too, so a single attempt is fine
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, apperrors.Wrap(err, apperrors.CategoryValidation, "config: decode failed").
			WithTextCode(ErrCodeInvalidConfig)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperrors.Wrap(err, apperrors.CategoryBadInput, "config: read failed").
			WithTextCode(ErrCodeInvalidConfig).
			WithMetadata(map[string]any{"path": path})
	}
	return Parse(data)
}

func (c *Config) normalize() {
	c.Region = strings.TrimSpace(c.Region)
	c.UserPool.PoolID = strings.TrimSpace(c.UserPool.PoolID)
	c.UserPool.AppClientID = strings.TrimSpace(c.UserPool.AppClientID)
	c.IdentityPool.PoolID = strings.TrimSpace(c.IdentityPool.PoolID)
	if c.Region == "" {
		c.Region = cognito.RegionFromPoolID(c.UserPool.PoolID)
	}
	if c.Region == "" {
		c.Region = cognito.RegionFromPoolID(c.IdentityPool.PoolID)
	}
	c.CredentialStore.Driver = strings.ToLower(strings.TrimSpace(c.CredentialStore.Driver))
	if c.CredentialStore.Driver == "" {
		c.CredentialStore.Driver = StoreMemory
	}
	if c.AuthFlow == "" {
		c.AuthFlow = string(cognito.AuthFlowUserSRP)
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.Region == "" {
		return invalid("region", "region is required")
	}
	if c.UserPool.PoolID == "" {
		return invalid("user_pool.pool_id", "user pool id is required")
	}
	if !strings.Contains(c.UserPool.PoolID, "_") {
		return invalid("user_pool.pool_id", fmt.Sprintf("user pool id %q must look like <region>_<id>", c.UserPool.PoolID))
	}
	if c.UserPool.AppClientID == "" {
		return invalid("user_pool.app_client_id", "app client id is required")
	}
	if id := c.IdentityPool.PoolID; id != "" && !strings.Contains(id, ":") {
		return invalid("identity_pool.pool_id", fmt.Sprintf("identity pool id %q must look like <region>:<uuid>", id))
	}
	switch cognito.AuthFlow(c.AuthFlow) {
	case cognito.AuthFlowUserSRP, cognito.AuthFlowUserPassword, cognito.AuthFlowCustom:
	default:
		return invalid("auth_flow", fmt.Sprintf("unsupported auth flow %q", c.AuthFlow))
	}
	switch c.CredentialStore.Driver {
	case StoreMemory:
	case StoreBolt:
		if c.CredentialStore.Path == "" {
			return invalid("credential_store.path", "bolt credential store requires a path")
		}
	default:
		return invalid("credential_store.driver", fmt.Sprintf("unknown credential store driver %q", c.CredentialStore.Driver))
	}
	if c.Retry.MaxRetries < 0 {
		return invalid("retry.max_retries", "max_retries cannot be negative")
	}
	if c.Refresh.Enabled && c.Refresh.Schedule == "" {
		return invalid("refresh.schedule", "refresh schedule is required when refresh is enabled")
	}
	return nil
}

// HasIdentityPool reports whether AWS credentials can be fetched.
func (c Config) HasIdentityPool() bool {
	return c.IdentityPool.PoolID != ""
}

// PoolName returns the user pool id without its region prefix.
func (c Config) PoolName() string {
	return cognito.PoolName(c.UserPool.PoolID)
}

// ProviderName returns the identity pool login key for the user pool.
func (c Config) ProviderName() string {
	return cognito.ProviderName(c.Region, c.UserPool.PoolID)
}

func invalid(field, msg string) error {
	return apperrors.New("config: "+msg, apperrors.CategoryValidation).
		WithTextCode(ErrCodeInvalidConfig).
		WithMetadata(map[string]any{"field": field})
}
