package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func valid() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = "secret"
	cfg.Auth.LoginPassword = "secret"
	return cfg
}

func TestDefaultsNeedSecrets(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "LOGIN_PASSWORD")

	assert.NoError(t, valid().Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
store:
  driver: postgres
  database_url: postgres://file
auth:
  jwt_secret: from-file
  token_ttl: 2h
subscriptions:
  buffer: 8
log:
  format: console
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("LOGIN_PASSWORD", "secret")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://file", cfg.Store.DatabaseURL)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 8, cfg.Subscriptions.Buffer)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 60*time.Second, cfg.Subscriptions.PongWait, "unset keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(env(map[string]string{
		"STORE_DRIVER":      "postgres",
		"TOKEN_TTL":         "15m",
		"LOGIN_RATE":        "0.5",
		"LOGIN_BURST":       "3",
		"SUBSCRIBER_BUFFER": "16",
		"OTLP_ENDPOINT":     "localhost:4318",
		"LOG_LEVEL":         "debug",
	})))
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, 0.5, cfg.Auth.LoginRate)
	assert.Equal(t, 3, cfg.Auth.LoginBurst)
	assert.Equal(t, 16, cfg.Subscriptions.Buffer)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	err := Default().applyEnv(env(map[string]string{
		"TOKEN_TTL":         "forever",
		"SUBSCRIBER_BUFFER": "many",
		"LOGIN_RATE":        "fast",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_TTL")
	assert.Contains(t, err.Error(), "SUBSCRIBER_BUFFER")
	assert.Contains(t, err.Error(), "LOGIN_RATE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "unknown store driver"},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres; c.Store.DatabaseURL = "" }, "database_url"},
		{"zero buffer", func(c *Config) { c.Subscriptions.Buffer = 0 }, "buffer"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"negative ttl", func(c *Config) { c.Auth.TokenTTL = -time.Second }, "token_ttl"},
		{"rate without burst", func(c *Config) { c.Auth.LoginRate = 5; c.Auth.LoginBurst = 0 }, "login_burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoginThrottlingCanBeDisabled(t *testing.T) {
	cfg := valid()
	cfg.Auth.LoginRate = 0
	cfg.Auth.LoginBurst = 0
	assert.NoError(t, cfg.Validate())
}
