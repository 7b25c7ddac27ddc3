// Package config loads service settings from an optional file, a .env file
// and GATEKEEP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lborres/gatekeep/core"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	minSecretLength = 32
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// ErrSplitSQLStores is returned when sessions live in a SQL database but users
// do not. The SQL session tables reference the users table of the same database.
var ErrSplitSQLStores = errors.New("storage.sessions: a sql session driver requires storage.users on the same driver")

var (
	userDrivers    = []string{DriverMemory, DriverPostgres, DriverSQLite, DriverMongo}
	sessionDrivers = []string{DriverMemory, DriverPostgres, DriverSQLite, DriverRedis}
)

type Config struct {
	Env string `mapstructure:"env"`

	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Auth struct {
		BasePath string `mapstructure:"base_path"`
		Secret   string `mapstructure:"secret"`
		Hasher   string `mapstructure:"hasher"`
	} `mapstructure:"auth"`

	Session struct {
		MaxAge        time.Duration `mapstructure:"max_age"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"session"`

	Cookie struct {
		Name     string `mapstructure:"name"`
		Path     string `mapstructure:"path"`
		Domain   string `mapstructure:"domain"`
		Secure   bool   `mapstructure:"secure"`
		SameSite string `mapstructure:"same_site"`
	} `mapstructure:"cookie"`

	Cache struct {
		Enabled bool          `mapstructure:"enabled"`
		TTL     time.Duration `mapstructure:"ttl"`
		MaxSize int           `mapstructure:"max_size"`
	} `mapstructure:"cache"`

	Limiter struct {
		MaxAttempts  int           `mapstructure:"max_attempts"`
		Window       time.Duration `mapstructure:"window"`
		LockDuration time.Duration `mapstructure:"lock_duration"`
	} `mapstructure:"limiter"`

	Storage struct {
		Users    string `mapstructure:"users"`
		Sessions string `mapstructure:"sessions"`
	} `mapstructure:"storage"`

	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.base_path", "/api/auth")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.hasher", "argon2")
	v.SetDefault("session.max_age", 24*time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)
	v.SetDefault("cookie.name", "auth_token")
	v.SetDefault("cookie.path", "/")
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.secure", false)
	v.SetDefault("cookie.same_site", "Lax")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_size", 500)
	v.SetDefault("limiter.max_attempts", 5)
	v.SetDefault("limiter.window", 15*time.Minute)
	v.SetDefault("limiter.lock_duration", 10*time.Minute)
	v.SetDefault("storage.users", DriverMemory)
	v.SetDefault("storage.sessions", DriverMemory)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("sqlite.path", "data/gatekeep.db")
	v.SetDefault("redis.url", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "gatekeep")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit path must exist; without one a
// "gatekeep" config file in the working directory is used when present.
// Values from .env never override variables already in the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GATEKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gatekeep")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that would otherwise fail at startup.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return core.ErrSecretRequired
	}
	if len(c.Auth.Secret) < minSecretLength {
		return fmt.Errorf("%w - minimum of %d characters", core.ErrSecretTooShort, minSecretLength)
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive, got %s", c.Session.MaxAge)
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateStorage checks the driver names, their connection settings and
// the pairing of the user and session stores.
func (c *Config) ValidateStorage() error {
	if !contains(userDrivers, c.Storage.Users) {
		return fmt.Errorf("storage.users: unsupported driver %q", c.Storage.Users)
	}
	if !contains(sessionDrivers, c.Storage.Sessions) {
		return fmt.Errorf("storage.sessions: unsupported driver %q", c.Storage.Sessions)
	}
	if isSQLDriver(c.Storage.Sessions) && c.Storage.Users != c.Storage.Sessions {
		return fmt.Errorf("%w (users=%s, sessions=%s)", ErrSplitSQLStores, c.Storage.Users, c.Storage.Sessions)
	}

	for _, driver := range []string{c.Storage.Users, c.Storage.Sessions} {
		switch {
		case driver == DriverPostgres && c.Postgres.DSN == "":
			return fmt.Errorf("postgres.dsn is required for the postgres driver")
		case driver == DriverRedis && c.Redis.URL == "":
			return fmt.Errorf("redis.url is required for the redis driver")
		case driver == DriverMongo && c.Mongo.URI == "":
			return fmt.Errorf("mongo.uri is required for the mongo driver")
		case driver == DriverSQLite && c.SQLite.Path == "":
			return fmt.Errorf("sqlite.path is required for the sqlite driver")
		}
	}
	return nil
}

func isSQLDriver(driver string) bool {
	return driver == DriverPostgres || driver == DriverSQLite
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// CookieConfig returns the session cookie settings. Production always sets
// the Secure attribute.
func (c *Config) CookieConfig() core.CookieConfig {
	return core.CookieConfig{
		Name:     c.Cookie.Name,
		Path:     c.Cookie.Path,
		Domain:   c.Cookie.Domain,
		Secure:   c.Cookie.Secure || c.IsProduction(),
		SameSite: c.Cookie.SameSite,
	}
}

func (c *Config) SessionConfig() core.SessionConfig {
	return core.SessionConfig{MaxAge: c.Session.MaxAge}
}

func (c *Config) LimiterConfig() core.LimiterConfig {
	return core.LimiterConfig{
		MaxAttempts:  c.Limiter.MaxAttempts,
		Window:       c.Limiter.Window,
		LockDuration: c.Limiter.LockDuration,
	}
}

func (c *Config) CacheConfig() core.CacheConfig {
	return core.CacheConfig{TTL: c.Cache.TTL, MaxSize: c.Cache.MaxSize}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
