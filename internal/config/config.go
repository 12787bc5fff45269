// Package config holds the process configuration, loaded through viper from
// defaults, an optional config file, NEXASEC_ environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable viper reads.
const EnvPrefix = "NEXASEC"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Report    ReportConfig    `mapstructure:"report"`
	Pprof     PprofConfig     `mapstructure:"pprof"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects a driver. Path is used by sqlite, DSN by postgres and
// mysql, and the instance fields by cloudsql.
type DatabaseConfig struct {
	Driver                 string        `mapstructure:"driver"`
	Path                   string        `mapstructure:"path"`
	DSN                    string        `mapstructure:"dsn"`
	InstanceConnectionName string        `mapstructure:"instance_connection_name"`
	User                   string        `mapstructure:"user"`
	Password               string        `mapstructure:"password"`
	Name                   string        `mapstructure:"name"`
	MaxOpenConns           int           `mapstructure:"max_open_conns"`
	MaxIdleConns           int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime        time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate            bool          `mapstructure:"auto_migrate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ScanConfig bounds scan execution. Timeouts overrides Timeout per category.
type ScanConfig struct {
	MaxConcurrent int                      `mapstructure:"max_concurrent"`
	MaxDaily      int                      `mapstructure:"max_daily"`
	Timeout       time.Duration            `mapstructure:"timeout"`
	Timeouts      map[string]time.Duration `mapstructure:"timeouts"`
	PhaseDelay    time.Duration            `mapstructure:"phase_delay"`
	Generator     string                   `mapstructure:"generator"`
	NmapPath      string                   `mapstructure:"nmap_path"`
	RecoverOnBoot bool                     `mapstructure:"recover_on_boot"`
}

// TimeoutFor returns the maximum run time of a scan in the given category.
func (c ScanConfig) TimeoutFor(category string) time.Duration {
	if d, ok := c.Timeouts[category]; ok && d > 0 {
		return d
	}
	return c.Timeout
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
	Blacklist       string        `mapstructure:"blacklist"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type ReportConfig struct {
	Dir string `mapstructure:"dir"`
}

type PprofConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers the default value of every key on v. Keys without a
// default are not visible to Unmarshal through AutomaticEnv, so empty strings
// are registered too.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "nexasec.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.instance_connection_name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scan.max_concurrent", 3)
	v.SetDefault("scan.max_daily", 10)
	v.SetDefault("scan.timeout", time.Hour)
	v.SetDefault("scan.phase_delay", 2*time.Second)
	v.SetDefault("scan.generator", "catalog")
	v.SetDefault("scan.nmap_path", "nmap")
	v.SetDefault("scan.recover_on_boot", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.secure_cookies", false)
	v.SetDefault("auth.access_token_ttl", 30*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.blacklist", "memory")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", 60*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.key_prefix", "nexasec:")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "nexasec.events")

	v.SetDefault("report.dir", "reports")

	v.SetDefault("pprof.addr", "")
}

// Load reads the configuration from v. When configFile is set it is read
// first; environment variables override it.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for %s", c.Database.Driver))
		}
	case "cloudsql":
		if c.Database.InstanceConnectionName == "" {
			errs = append(errs, errors.New("database.instance_connection_name is required for cloudsql"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Scan.MaxConcurrent < 1 {
		errs = append(errs, errors.New("scan.max_concurrent must be at least 1"))
	}
	if c.Scan.MaxDaily < 1 {
		errs = append(errs, errors.New("scan.max_daily must be at least 1"))
	}
	if c.Scan.Timeout <= 0 {
		errs = append(errs, errors.New("scan.timeout must be positive"))
	}
	if c.Scan.PhaseDelay < 0 {
		errs = append(errs, errors.New("scan.phase_delay cannot be negative"))
	}
	switch c.Scan.Generator {
	case "catalog", "nmap":
	default:
		errs = append(errs, fmt.Errorf("unsupported scan generator %q", c.Scan.Generator))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("auth token lifetimes must be positive"))
	}
	switch c.Auth.Blacklist {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported auth.blacklist %q", c.Auth.Blacklist))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
		}
		switch c.RateLimit.Backend {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Errorf("unsupported rate_limit.backend %q", c.RateLimit.Backend))
		}
	}
	if c.Report.Dir == "" {
		errs = append(errs, errors.New("report.dir is required"))
	}
	return errors.Join(errs...)
}
