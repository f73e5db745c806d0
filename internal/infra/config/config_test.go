package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Address)
	require.Equal(t, 3, cfg.Usage.DailyLimit)
	require.Equal(t, 4*time.Second, cfg.Session.LipSyncDuration)
	require.Len(t, cfg.Payment.Plans, 2)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9090"
usage:
  dailyLimit: 5
  backend: postgres
session:
  idleTtl: 1h
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("USAGE_DAILY_LIMIT", "7")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/truthcard")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_live")
	t.Setenv("RAZORPAY_KEY_SECRET", "shh")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Address)
	require.Equal(t, 7, cfg.Usage.DailyLimit)
	require.Equal(t, "postgres", cfg.Usage.Backend)
	require.Equal(t, time.Hour, cfg.Session.IdleTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, "rzp_live", cfg.Payment.KeyID)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Usage.DailyLimit = 0
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.HTTP.MaxUploadBytes = 0
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Payment.KeyID = "rzp_live"
	require.Error(t, cfg.Validate(), "key id without secret")

	cfg = defaultConfig()
	cfg.Usage.Backend = "postgres"
	require.Error(t, cfg.Validate(), "postgres backend without dsn")

	cfg = defaultConfig()
	cfg.Usage.LockoutMonths = 0
	require.EqualError(t, cfg.Validate(), "usage.lockoutMonths must be at least 1")
}
