package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/botvisor/internal/auth"
	"github.com/loykin/botvisor/internal/cron"
	"github.com/loykin/botvisor/internal/env"
	"github.com/loykin/botvisor/internal/logger"
	"github.com/loykin/botvisor/internal/logsink"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/registry/factory"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: BOTVISOR_SERVER_LISTEN, ...
const EnvPrefix = "BOTVISOR"

const (
	DefaultListen   = ":3000"
	DefaultBasePath = "/api"
	DefaultGrace    = 5 * time.Second
)

// Config is the daemon configuration, read from TOML (or YAML/JSON, by file
// extension) with environment overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Registry factory.Config `mapstructure:"registry"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Log      logger.Config  `mapstructure:"log"`
	Bots     BotsConfig     `mapstructure:"bots"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	History  HistoryConfig  `mapstructure:"history"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// Schedules start registered bots periodically ([[schedules]] tables).
	Schedules []cron.Job `mapstructure:"schedules"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	UIDir    string      `mapstructure:"ui_dir"` // optional static UI served at /
	TLS      TLSConfig   `mapstructure:"tls"`
	Auth     auth.Config `mapstructure:"auth"`
}

// TLSConfig enables HTTPS for the API. CertFile/KeyFile take precedence
// over Dir; with AutoGenerate a self-signed pair is written to Dir when
// none exists.
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	DNSNames     []string `mapstructure:"dns_names"`
	MinVersion   string   `mapstructure:"min_version"`
}

// LogsConfig locates the per-bot output logs.
type LogsConfig struct {
	Dir       string `mapstructure:"dir"`
	TailBytes int    `mapstructure:"tail_bytes"`
}

// BotsConfig is the environment handed to every bot.
type BotsConfig struct {
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`
}

// HistoryConfig lists the sinks bot run events are exported to, one DSN
// each (sqlite://, postgres://, clickhouse://, opensearch://).
type HistoryConfig struct {
	Sinks  []string `mapstructure:"sinks"`
	Buffer int      `mapstructure:"buffer"`
}

// MetricsConfig controls the per-bot CPU and memory gauges. A zero
// resource_interval disables sampling.
type MetricsConfig struct {
	ResourceInterval time.Duration `mapstructure:"resource_interval"`
}

type ShutdownConfig struct {
	Grace time.Duration `mapstructure:"grace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.ui_dir", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.token_ttl", auth.DefaultTokenTTL)
	v.SetDefault("registry.type", "json")
	v.SetDefault("registry.path", "bots.json")
	v.SetDefault("registry.dsn", "")
	v.SetDefault("logs.dir", "logs")
	v.SetDefault("logs.tail_bytes", logsink.DefaultTailBytes)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("bots.env", []string{})
	v.SetDefault("bots.env_files", []string{})
	v.SetDefault("bots.use_os_env", true)
	v.SetDefault("shutdown.grace", DefaultGrace)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.buffer", 256)
	v.SetDefault("metrics.resource_interval", metrics.DefaultResourceInterval)
}

// Load reads path (optional) on top of the defaults and applies
// environment overrides. PORT, when set and BOTVISOR_SERVER_LISTEN is not,
// selects the listen port. Relative paths in a config file are resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.File = path

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv(EnvPrefix+"_SERVER_LISTEN") == "" {
		c.Server.Listen = ":" + port
	}
	if path != "" {
		c.resolvePaths(filepath.Dir(path))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Server.UIDir = abs(c.Server.UIDir)
	c.Server.TLS.CertFile = abs(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = abs(c.Server.TLS.KeyFile)
	c.Server.TLS.Dir = abs(c.Server.TLS.Dir)
	c.Registry.Path = abs(c.Registry.Path)
	c.Logs.Dir = abs(c.Logs.Dir)
	c.Log.File = abs(c.Log.File)
	for i, f := range c.Bots.EnvFiles {
		c.Bots.EnvFiles[i] = abs(f)
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/': %q", bp))
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
	}
	if a := c.Server.Auth; a.Enabled && a.JWTSecret == "" {
		errs = append(errs, errors.New("server.auth.jwt_secret is required when auth is enabled"))
	}
	if strings.TrimSpace(c.Logs.Dir) == "" {
		errs = append(errs, errors.New("logs.dir is required"))
	}
	if c.Logs.TailBytes < 0 {
		errs = append(errs, errors.New("logs.tail_bytes must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.History.Buffer < 0 {
		errs = append(errs, errors.New("history.buffer must not be negative"))
	}
	for _, j := range c.Schedules {
		if err := j.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Metrics.ResourceInterval < 0 {
		errs = append(errs, errors.New("metrics.resource_interval must not be negative"))
	}
	if c.Shutdown.Grace < 0 {
		errs = append(errs, errors.New("shutdown.grace must not be negative"))
	}
	return errors.Join(errs...)
}

// GlobalEnv builds the bot environment: OS env when enabled, then
// env_files in order, then the env list.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New(c.Bots.UseOSEnv)
	if err := e.LoadFiles(c.Bots.EnvFiles...); err != nil {
		return nil, err
	}
	e.SetPairs(c.Bots.Env)
	return e, nil
}
