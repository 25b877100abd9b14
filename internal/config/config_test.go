package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5*time.Minute, cfg.Client.RefreshLead)
	require.Zero(t, cfg.Client.RequestTimeout)
	require.Equal(t, "bolt", cfg.Storage.Driver)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
	require.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("API_BASE_URL", "https://library.example.com/api")
	t.Setenv("TOKEN_STORAGE", "redis")
	t.Setenv("REFRESH_LEAD", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://library.example.com/api", cfg.Client.BaseURL)
	require.Equal(t, "redis", cfg.Storage.Driver)
	require.Equal(t, 90*time.Second, cfg.Client.RefreshLead)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	data := []byte(`
log_level: debug
client:
  base_url: http://127.0.0.1:9000/api
storage:
  driver: memory
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "http://127.0.0.1:9000/api", cfg.Client.BaseURL)
	require.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_UnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("TOKEN_STORAGE", "cookie")

	_, err := Load("")
	require.ErrorContains(t, err, "Config.Storage.Driver")
}

func TestJWTConfig_Validate(t *testing.T) {
	cfg := JWTConfig{AccessExpiry: time.Minute, RefreshExpiry: time.Hour}
	require.Error(t, cfg.Validate())

	cfg.SecretKey = "short"
	require.Error(t, cfg.Validate())

	cfg.SecretKey = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidBackendSettings(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("BACKEND_USER_STORE", "postgres")
	t.Setenv("REDIS_DB", "99")

	_, err := Load("")
	require.ErrorContains(t, err, "Config.Backend.UserStore")
	require.ErrorContains(t, err, "Config.Redis.DB")
}

func TestLoad_RedisDBRange(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	t.Setenv("REDIS_DB", "15")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 15, cfg.Redis.DB)

	t.Setenv("REDIS_DB", "16")
	_, err = Load("")
	require.ErrorContains(t, err, "Config.Redis.DB")
}
