// Package sql opens the gorm database the stores run on. SQLite serves
// development and tests; Postgres, MySQL and Cloud SQL serve deployments.
package sql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nexasecurity/nexasec/internal/config"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/pkg/types"
)

// slowQueryThreshold is the duration above which gorm logs a query as slow.
const slowQueryThreshold = 500 * time.Millisecond

// DBConnector is an interface for database connections.
type DBConnector interface {
	Connect(ctx context.Context) (*gorm.DB, error)
}

// SQLiteConnector implements DBConnector for SQLite connections.
type SQLiteConnector struct {
	gormConfig *gorm.Config
	dbPath     string
}

// Connect connects to the SQLite database. Foreign keys and a busy timeout are
// enabled unless the path already carries parameters.
func (c *SQLiteConnector) Connect(_ context.Context) (*gorm.DB, error) {
	dsn := c.dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	database, err := gorm.Open(sqlite.Open(dsn), c.gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return database, nil
}

// PostgresConnector implements DBConnector for Postgres through pgx.
type PostgresConnector struct {
	gormConfig *gorm.Config
	dsn        string
}

func (c *PostgresConnector) Connect(_ context.Context) (*gorm.DB, error) {
	pgxConfig, err := pgx.ParseConfig(c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	return openPostgres(pgxConfig, c.gormConfig)
}

// MySQLConnector implements DBConnector for MySQL.
type MySQLConnector struct {
	gormConfig *gorm.Config
	dsn        string
}

func (c *MySQLConnector) Connect(_ context.Context) (*gorm.DB, error) {
	dsn := c.dsn
	if !strings.Contains(dsn, "parseTime") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}
	database, err := gorm.Open(mysql.Open(dsn), c.gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}
	return database, nil
}

// CloudSQLConnector implements DBConnector for Cloud SQL connections.
type CloudSQLConnector struct {
	gormConfig             *gorm.Config
	instanceConnectionName string
	user                   string
	password               string
	dbname                 string
}

// Connect connects to the database using the Cloud SQL connection. IAM
// authentication is tried first, then the password.
func (c *CloudSQLConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		dialer, err = cloudsqlconn.NewDialer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create dialer: %w", err)
		}
	}

	pgxConfig, err := pgx.ParseConfig(fmt.Sprintf("user=%s password=%s dbname=%s sslmode=disable",
		c.user, c.password, c.dbname))
	if err != nil {
		_ = dialer.Close()
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	pgxConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.Dial(ctx, c.instanceConnectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to dial Cloud SQL instance: %w", err)
		}
		return conn, nil
	}

	database, err := openPostgres(pgxConfig, c.gormConfig)
	if err != nil {
		_ = dialer.Close()
		return nil, err
	}
	return database, nil
}

func openPostgres(pgxConfig *pgx.ConnConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	sqlDB := stdlib.OpenDB(*pgxConfig)
	database, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize Gorm with pgx connection: %w", err)
	}
	return database, nil
}

// CreateDBConnector is a factory function that returns the DBConnector for
// cfg.Driver. Gorm's own log lines go through l.
func CreateDBConnector(cfg config.DatabaseConfig, l types.Logger) (DBConnector, error) {
	gormConfig := &gorm.Config{Logger: gormLogger(l)}
	switch cfg.Driver {
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("sqlite requires a database path")
		}
		return &SQLiteConnector{gormConfig: gormConfig, dbPath: cfg.Path}, nil
	case "postgres":
		return &PostgresConnector{gormConfig: gormConfig, dsn: cfg.DSN}, nil
	case "mysql":
		return &MySQLConnector{gormConfig: gormConfig, dsn: cfg.DSN}, nil
	case "cloudsql":
		return &CloudSQLConnector{
			gormConfig:             gormConfig,
			instanceConnectionName: cfg.InstanceConnectionName,
			user:                   cfg.User,
			password:               cfg.Password,
			dbname:                 cfg.Name,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func gormLogger(l types.Logger) logger.Interface {
	zl := log.Zap(l)
	level := logger.Warn
	if zl.Core().Enabled(zap.DebugLevel) {
		level = logger.Info
	}
	return logger.New(zap.NewStdLog(zl.WithOptions(zap.AddCallerSkip(3))), logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// ConfigurePool applies the connection pool settings of cfg to database.
func ConfigurePool(database *gorm.DB, cfg config.DatabaseConfig) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// Migrate creates or updates the tables of every persisted model.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

// Open connects with connector, applies the pool settings and, when
// cfg.AutoMigrate is set, migrates the schema.
func Open(ctx context.Context, connector DBConnector, cfg config.DatabaseConfig) (*gorm.DB, error) {
	database, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := ConfigurePool(database, cfg); err != nil {
		return nil, err
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := Migrate(database); err != nil {
			return nil, err
		}
	}
	return database, nil
}
