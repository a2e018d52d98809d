// Package config provides configuration management for contactcard.
// Settings start from built-in defaults, are overlaid by an optional YAML
// file (CONTACTCARD_CONFIG_FILE), and finally by environment variables with
// the CONTACTCARD_ prefix.
//
// User settings (the client credential mode) are persisted in the settings
// table. ApplyStoredSettings reads them back over the env-derived values and
// SaveUserSettings writes them.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables.
const EnvPrefix = "CONTACTCARD"

// Credential modes for model calls.
const (
	ModeManaged = "managed" // server-held credential
	ModeBYOK    = "byok"    // caller-supplied credential
)

// Config holds all configuration settings for contactcard.
type Config struct {
	Server   ServerConfig   `envconfig:"SERVER" yaml:"server"`
	Relay    RelayConfig    `envconfig:"RELAY" yaml:"relay"`
	Client   ClientConfig   `envconfig:"CLIENT" yaml:"client"`
	Storage  StorageConfig  `envconfig:"STORAGE" yaml:"storage"`
	Security SecurityConfig `envconfig:"SECURITY" yaml:"security"`
	Contacts ContactsConfig `envconfig:"CONTACTS" yaml:"contacts"`
	Credits  CreditsConfig  `envconfig:"CREDITS" yaml:"credits"`
	Secrets  SecretsConfig  `envconfig:"SECRETS" yaml:"secrets"`
	LogLevel string         `envconfig:"LOG_LEVEL" yaml:"log_level"`
}

// ServerConfig contains the API server configuration.
type ServerConfig struct {
	Host      string  `envconfig:"HOST" yaml:"host"`             // default: 127.0.0.1
	Port      int     `envconfig:"PORT" yaml:"port"`             // default: 6464
	RateLimit float64 `envconfig:"RATE_LIMIT" yaml:"rate_limit"` // requests/sec, default: 10
	RateBurst int     `envconfig:"RATE_BURST" yaml:"rate_burst"` // default: 20
}

// RelayConfig contains the relay service configuration.
type RelayConfig struct {
	Host             string `envconfig:"HOST" yaml:"host"`
	Port             int    `envconfig:"PORT" yaml:"port"`                           // default: 8787
	UpstreamURL      string `envconfig:"UPSTREAM_URL" yaml:"upstream_url"`           // provider messages endpoint
	APIKey           string `envconfig:"API_KEY" yaml:"api_key"`                     // server-held credential
	AnthropicVersion string `envconfig:"ANTHROPIC_VERSION" yaml:"anthropic_version"` // default: 2023-06-01
	DefaultModel     string `envconfig:"DEFAULT_MODEL" yaml:"default_model"`
}

// ClientConfig configures how the app reaches the relay.
type ClientConfig struct {
	RelayURL string        `envconfig:"RELAY_URL" yaml:"relay_url"`
	Mode     string        `envconfig:"MODE" yaml:"mode"` // managed | byok
	Model    string        `envconfig:"MODEL" yaml:"model"`
	Timeout  time.Duration `envconfig:"TIMEOUT" yaml:"timeout"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `envconfig:"ENGINE" yaml:"engine"` // sqlite | postgres
	DataPath    string `envconfig:"DATA_PATH" yaml:"data_path"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" yaml:"postgres_dsn"`
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	Mode     string `envconfig:"MODE" yaml:"mode"` // development | production
	APIToken string `envconfig:"API_TOKEN" yaml:"api_token"`
}

// ContactsConfig points at the address-book snapshot file. Empty means no
// address book.
type ContactsConfig struct {
	File string `envconfig:"FILE" yaml:"file"`
}

// CreditsConfig controls the managed-mode credit balance.
type CreditsConfig struct {
	FreeGrant int `envconfig:"FREE_GRANT" yaml:"free_grant"` // default: 50
}

// SecretsConfig locates the BYOK key file. Empty means {DataPath}/byok.key.
type SecretsConfig struct {
	KeyFile string `envconfig:"KEY_FILE" yaml:"key_file"`
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      6464,
			RateLimit: 10,
			RateBurst: 20,
		},
		Relay: RelayConfig{
			Host:             "127.0.0.1",
			Port:             8787,
			UpstreamURL:      "https://api.anthropic.com/v1/messages",
			AnthropicVersion: "2023-06-01",
			DefaultModel:     "claude-sonnet-4-5-20250929",
		},
		Client: ClientConfig{
			RelayURL: "http://127.0.0.1:8787",
			Mode:     ModeManaged,
			Model:    "claude-sonnet-4-5-20250929",
			Timeout:  90 * time.Second,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Security: SecurityConfig{
			Mode: "development",
		},
		Credits: CreditsConfig{
			FreeGrant: 50,
		},
		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by CONTACTCARD_CONFIG_FILE, and environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
}

// LoadConfigFile is LoadConfig with an explicit YAML path. An empty path
// skips the file.
func LoadConfigFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	// No default tags are declared, so envconfig only touches fields whose
	// variable is set and the file values survive.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: CONTACTCARD_STORAGE_POSTGRES_DSN is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.Engine)
	}

	if c.Client.Mode != ModeManaged && c.Client.Mode != ModeBYOK {
		return fmt.Errorf("config: unsupported client mode %q", c.Client.Mode)
	}

	if c.Security.Mode == "production" && c.Security.APIToken == "" {
		return errors.New("config: CONTACTCARD_SECURITY_API_TOKEN is required in production mode")
	}
	return nil
}

// SQLitePath returns the SQLite database file path.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.DataPath, "contactcard.db")
}

// KeyFile returns the BYOK key file path.
func (c *Config) KeyFile() string {
	if c.Secrets.KeyFile != "" {
		return c.Secrets.KeyFile
	}
	return filepath.Join(c.Storage.DataPath, "byok.key")
}

// SettingsStore is the subset of the storage layer that persists user settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// settingClientMode is the settings-table key for the credential mode.
const settingClientMode = "client_mode"

// ApplyStoredSettings overlays persisted user settings. A stored value takes
// precedence over the environment; a missing value leaves the config as is.
func (c *Config) ApplyStoredSettings(ctx context.Context, s SettingsStore) error {
	if s == nil {
		return errors.New("config: settings store is required")
	}

	mode, err := s.GetSetting(ctx, settingClientMode)
	if err != nil {
		return fmt.Errorf("config: failed to load %s: %w", settingClientMode, err)
	}
	if mode != "" {
		c.Client.Mode = mode
	}
	return c.Validate()
}

// SaveUserSettings persists user settings so they survive restarts.
func (c *Config) SaveUserSettings(ctx context.Context, s SettingsStore) error {
	if s == nil {
		return errors.New("config: settings store is required")
	}
	if err := s.SetSetting(ctx, settingClientMode, c.Client.Mode); err != nil {
		return fmt.Errorf("config: failed to save %s: %w", settingClientMode, err)
	}
	return nil
}
