package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validEnv sets the minimum environment for Load to succeed.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSCORE_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("POSCORE_DATABASE_EMBEDDED", "true")
	t.Setenv("POSCORE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 50, cfg.Entitlement.DefaultTrialCredits)
	assert.Equal(t, 3, cfg.Entitlement.VolumeThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Entitlement.VolumeWindow)
	assert.Equal(t, 3, cfg.Entitlement.DefaultMaxActivations)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("POSCORE_SERVER_PORT", "9090")
	t.Setenv("POSCORE_LOGGING_LEVEL", "debug")
	t.Setenv("POSCORE_ENTITLEMENT_DEFAULT_TRIAL_CREDITS", "25")
	t.Setenv("POSCORE_REDIS_ENABLED", "true")
	t.Setenv("POSCORE_REDIS_ADDR", "cache:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 25, cfg.Entitlement.DefaultTrialCredits)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoadFromFile(t *testing.T) {
	validEnv(t)

	content := `
server:
  port: 7070
auth:
  jwt_secret: filesecret-filesecret-filesecret-1234
database:
  embedded: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("POSCORE_CONFIG", path)
	// Clear the env port so the file value is visible.
	t.Setenv("POSCORE_SERVER_PORT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	// Env secret still wins over the file secret.
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)
}

func TestLoadRejectsMissingJWTSecret(t *testing.T) {
	validEnv(t)
	t.Setenv("POSCORE_AUTH_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	validEnv(t)
	t.Setenv("POSCORE_AUTH_JWT_SECRET", "tooshort")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters")
}

func TestLoadRequiresDatabasePassword(t *testing.T) {
	validEnv(t)
	t.Setenv("POSCORE_DATABASE_EMBEDDED", "false")
	t.Setenv("POSCORE_DATABASE_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password")
}

func TestValidateEntitlementKnobs(t *testing.T) {
	validEnv(t)
	t.Setenv("POSCORE_ENTITLEMENT_VOLUME_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volume_threshold")
}
