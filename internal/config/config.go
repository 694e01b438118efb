// Package config provides dynamic configuration management for OpenFlux.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for OpenFlux.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`
	DBPath     string `mapstructure:"db_path"`
	DBDriver   string `mapstructure:"db_driver"` // only "sqlite" for now

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for Web API tokens.
	// Change this in production — default is a random-looking placeholder.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AdminUser / AdminPass: credentials for /api/login.
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── Telemetry collection ──────────────────────────────────────────────────
	// PollIntervalSeconds is the sampling tick cadence. The collector never
	// overlaps ticks: a tick still running when the next fires makes the
	// next one a no-op.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// PollConcurrency caps parallel per-machine counter fetches within a tick.
	PollConcurrency int `mapstructure:"poll_concurrency"`
	// CountIdleSamples: whether a zero-delta poll still increments a bucket's
	// sample count. Keeping it on makes "polled but idle" visible to operators.
	CountIdleSamples bool `mapstructure:"count_idle_samples"`

	// ── Retention ─────────────────────────────────────────────────────────────
	RetentionDays      int `mapstructure:"retention_days"`
	SweepIntervalHours int `mapstructure:"sweep_interval_hours"`

	// ── Broadcast (real-time transport) ──────────────────────────────────────
	// NATSURL empty = broadcast disabled, updates only queryable via REST.
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`

	// ── Alerting ──────────────────────────────────────────────────────────────
	// AlertHourlyBytes: hourly per-machine traffic above this raises a warning
	// alert. 0 disables threshold alerting.
	AlertHourlyBytes uint64 `mapstructure:"alert_hourly_bytes"`

	// ── SSH defaults (node maintenance shell) ────────────────────────────────
	SSHUser    string `mapstructure:"ssh_user"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`
}

// PollInterval returns the tick cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SweepInterval returns the retention sweep cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// Load reads config from file (./config.yaml or ~/.openflux/config.yaml)
// and falls back to smart defaults. Environment variables with prefix FLUX_
// override file values.
func Load() (*Config, error) {
	v := viper.New()

	// --- Smart Defaults ---
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 6680)
	v.SetDefault("db_path", "openflux.db")
	v.SetDefault("db_driver", "sqlite")

	// Security defaults — MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "Fx7#pQ2!nV9@kR4^sW6&dZ1*hY8$mL3")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	// The upstream collector advertised a 30s cadence while its timer fired
	// every 5s; OpenFlux standardizes on an explicit, configurable 30s.
	v.SetDefault("poll_interval_seconds", 30)
	v.SetDefault("poll_concurrency", 8)
	v.SetDefault("count_idle_samples", true)

	v.SetDefault("retention_days", 30)
	v.SetDefault("sweep_interval_hours", 24)

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "openflux.traffic")

	v.SetDefault("alert_hourly_bytes", uint64(0))

	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_key_path", "~/.ssh/id_rsa")

	// --- Config file ---
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.openflux")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("FLUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
