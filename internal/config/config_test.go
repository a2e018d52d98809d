package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/contactcard/internal/config"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(_ context.Context, key string) (string, error) {
	return m[key], nil
}

func (m mapSettings) SetSetting(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("CONTACTCARD_SERVER_HOST")
	_ = os.Unsetenv("CONTACTCARD_CONFIG_FILE")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "default host must be loopback")
	assert.Equal(t, config.ModeManaged, cfg.Client.Mode)
	assert.Equal(t, 50, cfg.Credits.FreeGrant)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONTACTCARD_SERVER_PORT", "9000")
	t.Setenv("CONTACTCARD_CLIENT_MODE", "byok")
	t.Setenv("CONTACTCARD_CLIENT_TIMEOUT", "15s")
	t.Setenv("CONTACTCARD_RELAY_API_KEY", "sk-test")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, config.ModeBYOK, cfg.Client.Mode)
	assert.Equal(t, 15*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "sk-test", cfg.Relay.APIKey)
}

func TestLoadConfigFile_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contactcard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
relay:
  default_model: claude-haiku-4-5-20251001
storage:
  data_path: /var/lib/contactcard
`), 0o600))
	t.Setenv("CONTACTCARD_SERVER_PORT", "7100")

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port, "env must win over file")
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Relay.DefaultModel)
	assert.Equal(t, "/var/lib/contactcard/contactcard.db", cfg.SQLitePath())
	assert.Equal(t, "/var/lib/contactcard/byok.key", cfg.KeyFile())
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep defaults")
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := config.LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Storage.Engine = "postgres"
	assert.Error(t, cfg.Validate(), "postgres needs a DSN")
	cfg.Storage.PostgresDSN = "postgres://localhost/contactcard"
	assert.NoError(t, cfg.Validate())

	cfg.Client.Mode = "free"
	assert.Error(t, cfg.Validate())
	cfg.Client.Mode = config.ModeBYOK

	cfg.Security.Mode = "production"
	assert.Error(t, cfg.Validate(), "production needs a token")
	cfg.Security.APIToken = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestUserSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := mapSettings{}

	cfg := config.Defaults()
	cfg.Client.Mode = config.ModeBYOK
	require.NoError(t, cfg.SaveUserSettings(ctx, store))

	fresh := config.Defaults()
	require.NoError(t, fresh.ApplyStoredSettings(ctx, store))
	assert.Equal(t, config.ModeBYOK, fresh.Client.Mode)
}

func TestApplyStoredSettings_MissingKeepsEnvValue(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.ApplyStoredSettings(context.Background(), mapSettings{}))
	assert.Equal(t, config.ModeManaged, cfg.Client.Mode)
}

func TestApplyStoredSettings_NilStore(t *testing.T) {
	assert.Error(t, config.Defaults().ApplyStoredSettings(context.Background(), nil))
	assert.Error(t, config.Defaults().SaveUserSettings(context.Background(), nil))
}
