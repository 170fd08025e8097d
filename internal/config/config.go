// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads gatehouse configuration from defaults, an optional
// YAML file, the environment, and command-line flags, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Defaults.
const (
	DefaultListenAddr      = ":3000"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLogFormat       = "json"
	DefaultSessionLifetime = 24 * time.Hour
	DefaultDBPort          = 5432
)

// envKeys maps the supported environment variables to koanf keys. The
// DB_*/SESSION_SECRET names match what the previous deployment read from its
// .env file; everything else is addressable only through the file or flags.
var envKeys = map[string]string{
	"DATABASE_URL":   "db.url",
	"DB_HOST":        "db.host",
	"DB_PORT":        "db.port",
	"DB_USER":        "db.user",
	"DB_PASSWORD":    "db.password",
	"DB_DATABASE":    "db.database",
	"SESSION_SECRET": "session.secret",
}

// DB holds database connection parameters. URL, when set, wins over the
// individual fields.
type DB struct {
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

// Session holds session-layer settings.
type Session struct {
	Secret   string        `koanf:"secret"`
	Lifetime time.Duration `koanf:"lifetime"`
}

// Server holds listen addresses.
type Server struct {
	Listen  string `koanf:"listen"`
	Metrics string `koanf:"metrics"` // empty disables the observability server
}

// Log holds logging settings.
type Log struct {
	Format string `koanf:"format"` // json or text
}

// Config is the full gatehouse configuration.
type Config struct {
	DB      DB      `koanf:"db"`
	Session Session `koanf:"session"`
	Server  Server  `koanf:"server"`
	Log     Log     `koanf:"log"`
}

func defaultConfig() Config {
	return Config{
		DB: DB{
			Host: "localhost",
			Port: DefaultDBPort,
		},
		Session: Session{
			Lifetime: DefaultSessionLifetime,
		},
		Server: Server{
			Listen:  DefaultListenAddr,
			Metrics: DefaultMetricsAddr,
		},
		Log: Log{
			Format: DefaultLogFormat,
		},
	}
}

// Load builds the configuration. configFile may be empty; flags may be nil.
// A .env file in the working directory is loaded into the environment first,
// without overriding variables that are already set.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load() //nolint:errcheck

	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("file", configFile).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "load environment").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("operation", "load flags").Wrap(err)
		}
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal config").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the invariants that cannot wait until first use.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("session secret is required (SESSION_SECRET)")
	}
	if c.Session.Lifetime <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session lifetime must be positive")
	}
	if c.DB.URL == "" && c.DB.Database == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database name is required (DB_DATABASE or DATABASE_URL)")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log format must be json or text")
	}
	return nil
}

// DatabaseURL returns the connection string, assembling one from the
// individual DB_* parameters when no DATABASE_URL was given.
func (c *Config) DatabaseURL() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:   "/" + c.DB.Database,
	}
	if c.DB.User != "" {
		if c.DB.Password != "" {
			u.User = url.UserPassword(c.DB.User, c.DB.Password)
		} else {
			u.User = url.User(c.DB.User)
		}
	}
	return u.String()
}
