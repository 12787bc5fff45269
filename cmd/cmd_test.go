package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nexasecurity/nexasec/internal/auth"
	"github.com/nexasecurity/nexasec/internal/config"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/events"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/internal/ratelimit"
	"github.com/nexasecurity/nexasec/internal/sql"
	"github.com/nexasecurity/nexasec/pkg/types"
)

// MockDBConnector is a mock implementation of sql.DBConnector.
type MockDBConnector struct {
	mock.Mock
}

func (m *MockDBConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	args := m.Called(ctx)
	return args.Get(0).(*gorm.DB), args.Error(1)
}

func testContext() context.Context {
	return log.WithLogger(context.Background(), log.FromZap(zap.NewNop()))
}

func TestRunMigrate(t *testing.T) {
	ctx := testContext()
	mockDB := &gorm.DB{}
	mockConnector := new(MockDBConnector)
	mockConnector.On("Connect", ctx).Return(mockDB, nil)

	var migrated *gorm.DB
	err := runMigrate(ctx, config.DatabaseConfig{Driver: "sqlite"},
		func(config.DatabaseConfig, types.Logger) (sql.DBConnector, error) { return mockConnector, nil },
		func(db *gorm.DB) error {
			migrated = db
			return nil
		})

	require.NoError(t, err, "runMigrate() should not return an error")
	assert.Same(t, mockDB, migrated)
	mockConnector.AssertExpectations(t)
}

func TestRunMigrateWithConnectError(t *testing.T) {
	ctx := testContext()
	mockConnector := new(MockDBConnector)
	mockConnector.On("Connect", ctx).Return((*gorm.DB)(nil), assert.AnError)

	err := runMigrate(ctx, config.DatabaseConfig{},
		func(config.DatabaseConfig, types.Logger) (sql.DBConnector, error) { return mockConnector, nil },
		func(*gorm.DB) error {
			t.Fatal("migrate should not run without a connection")
			return nil
		})

	require.ErrorIs(t, err, assert.AnError)
	mockConnector.AssertExpectations(t)
}

func TestRunMigrateWithMigrationError(t *testing.T) {
	ctx := testContext()
	mockConnector := new(MockDBConnector)
	mockConnector.On("Connect", ctx).Return(&gorm.DB{}, nil)

	err := runMigrate(ctx, config.DatabaseConfig{},
		func(config.DatabaseConfig, types.Logger) (sql.DBConnector, error) { return mockConnector, nil },
		func(*gorm.DB) error { return assert.AnError })

	require.ErrorIs(t, err, assert.AnError)
	require.ErrorContains(t, err, "failed to migrate database")
}

func TestRunMigrateWithFactoryError(t *testing.T) {
	wantErr := errors.New("unsupported database driver")
	err := runMigrate(testContext(), config.DatabaseConfig{},
		func(config.DatabaseConfig, types.Logger) (sql.DBConnector, error) { return nil, wantErr },
		func(*gorm.DB) error { return nil })
	require.ErrorIs(t, err, wantErr)
}

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexasec.db")
	t.Setenv("NEXASEC_AUTH_JWT_SECRET", "secret")
	t.Setenv("NEXASEC_DATABASE_PATH", path)
	t.Setenv("NEXASEC_LOG_LEVEL", "error")

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"migrate"})
	require.NoError(t, rootCmd.Execute())

	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	for _, m := range model.AllModels() {
		assert.True(t, database.Migrator().HasTable(m), "table for %T", m)
	}
}

func TestMigrateCommandRejectsInvalidConfig(t *testing.T) {
	t.Setenv("NEXASEC_AUTH_JWT_SECRET", "")
	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"migrate"})
	rootCmd.SetErr(new(bytes.Buffer))
	require.ErrorContains(t, rootCmd.Execute(), "auth.jwt_secret is required")
}

func TestVersionCommand(t *testing.T) {
	oldVersion, oldCommit := Version, CommitSHA
	t.Cleanup(func() { Version, CommitSHA = oldVersion, oldCommit })
	Version, CommitSHA = "v1.2.3", "abc123"

	var out bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	var got versionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, versionInfo{Version: "v1.2.3", Commit: "abc123"}, got)
}

func TestServeFlagsBindToConfig(t *testing.T) {
	t.Setenv("NEXASEC_AUTH_JWT_SECRET", "secret")
	v := viper.New()
	rootCmd := newRootCmdWithViper(v)
	serveCmd, _, err := rootCmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serveCmd.Flags().Set("addr", ":9999"))
	require.NoError(t, serveCmd.Flags().Set("generator", "nmap"))

	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "nmap", cfg.Scan.Generator)
	assert.Equal(t, "info", cfg.Log.Level, "unset flags keep the default")
}

func TestWiringHelpers(t *testing.T) {
	cfg := &config.Config{
		Auth:      config.AuthConfig{Blacklist: "memory"},
		RateLimit: config.RateLimitConfig{Enabled: true, Backend: "memory", Requests: 5, Window: time.Minute},
	}
	assert.False(t, needsRedis(cfg))
	assert.IsType(t, &auth.MemoryBlacklist{}, newBlacklist(cfg, nil))

	limiter, closeLimiter, err := newLimiter(cfg, nil)
	require.NoError(t, err)
	defer closeLimiter()
	assert.IsType(t, &ratelimit.MemoryLimiter{}, limiter)

	cfg.RateLimit.Enabled = false
	limiter, _, err = newLimiter(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)

	cfg.Auth.Blacklist = "redis"
	assert.True(t, needsRedis(cfg))

	publisher, closePublisher, err := newPublisher(config.AMQPConfig{})
	require.NoError(t, err)
	closePublisher()
	assert.IsType(t, events.LogPublisher{}, publisher)
}
