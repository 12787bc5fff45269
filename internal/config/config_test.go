package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEXASEC_AUTH_JWT_SECRET", "secret")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Scan.MaxConcurrent)
	require.Equal(t, 10, cfg.Scan.MaxDaily)
	require.Equal(t, time.Hour, cfg.Scan.Timeout)
	require.Equal(t, 2*time.Second, cfg.Scan.PhaseDelay)
	require.Equal(t, "catalog", cfg.Scan.Generator)
	require.Equal(t, 100, cfg.RateLimit.Requests)
	require.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	require.Equal(t, 30*time.Minute, cfg.Auth.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenTTL)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "secret", cfg.Auth.JWTSecret)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NEXASEC_AUTH_JWT_SECRET", "secret")
	t.Setenv("NEXASEC_SCAN_MAX_CONCURRENT", "7")
	t.Setenv("NEXASEC_SCAN_PHASE_DELAY", "0s")
	t.Setenv("NEXASEC_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Scan.MaxConcurrent)
	require.Equal(t, time.Duration(0), cfg.Scan.PhaseDelay)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexasec.yaml")
	content := `
auth:
  jwt_secret: from-file
scan:
  generator: nmap
  timeouts:
    network: 2h
database:
  driver: postgres
  dsn: host=localhost user=nexasec dbname=nexasec
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Auth.JWTSecret)
	require.Equal(t, "nmap", cfg.Scan.Generator)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 2*time.Hour, cfg.Scan.TimeoutFor("network"))
	require.Equal(t, time.Hour, cfg.Scan.TimeoutFor("web"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "auth.jwt_secret is required"},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: `unsupported database driver "oracle"`},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: "database.dsn is required for postgres"},
		{name: "cloudsql without instance", mutate: func(c *Config) { c.Database.Driver = "cloudsql" }, wantErr: "instance_connection_name"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Scan.MaxConcurrent = 0 }, wantErr: "scan.max_concurrent"},
		{name: "bad generator", mutate: func(c *Config) { c.Scan.Generator = "zap" }, wantErr: `unsupported scan generator "zap"`},
		{name: "bad limiter backend", mutate: func(c *Config) { c.RateLimit.Backend = "etcd" }, wantErr: "rate_limit.backend"},
		{name: "limiter disabled ignores backend", mutate: func(c *Config) { c.RateLimit.Enabled = false; c.RateLimit.Backend = "etcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
