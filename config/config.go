// Package config loads leagueflow configuration from YAML with
// environment overrides, and builds the shared zap logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/leagueflow/match"
	"github.com/BaSui01/leagueflow/resilience"
	"github.com/BaSui01/leagueflow/transport"
)

// LeagueConfig describes the tournament itself.
type LeagueConfig struct {
	ID                  string        `yaml:"id" json:"id"`
	GameType            string        `yaml:"game_type" json:"game_type"`
	MinParticipants     int           `yaml:"min_participants" json:"min_participants"`
	MaxParticipants     int           `yaml:"max_participants" json:"max_participants"`
	RoundsPerMatchup    int           `yaml:"rounds_per_matchup" json:"rounds_per_matchup"`
	RegistrationWindow  time.Duration `yaml:"registration_window" json:"registration_window"`
	AuthSecret          string        `yaml:"auth_secret" json:"auth_secret"`
	CoordinatorEndpoint string        `yaml:"coordinator_endpoint" json:"coordinator_endpoint"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json" or "console"
}

// StoreConfig locates the results database.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Config is the full leagueflow configuration tree.
type Config struct {
	League  LeagueConfig             `yaml:"league" json:"league"`
	Server  transport.Config         `yaml:"server" json:"server"`
	Breaker resilience.BreakerConfig `yaml:"breaker" json:"breaker"`
	Caller  resilience.CallerConfig  `yaml:"caller" json:"caller"`
	Match   match.Config             `yaml:"match" json:"match"`
	Log     LogConfig                `yaml:"log" json:"log"`
	Store   StoreConfig              `yaml:"store" json:"store"`
}

// Default returns a runnable configuration.
func Default() *Config {
	return &Config{
		League: LeagueConfig{
			ID:                 "league-2026",
			GameType:           "even_odd",
			MinParticipants:    2,
			MaxParticipants:    16,
			RoundsPerMatchup:   1,
			RegistrationWindow: 30 * time.Second,
			AuthSecret:         "leagueflow-dev-secret",
		},
		Server:  transport.DefaultConfig(),
		Breaker: resilience.DefaultBreakerConfig(),
		Caller:  resilience.DefaultCallerConfig(),
		Match:   match.DefaultConfig(),
		Log:     LogConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Path: "leagueflow.db"},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.League.ID == "" {
		return fmt.Errorf("league.id is required")
	}
	if c.League.MinParticipants < 2 {
		return fmt.Errorf("league.min_participants must be at least 2, got %d", c.League.MinParticipants)
	}
	if c.League.MaxParticipants < c.League.MinParticipants {
		return fmt.Errorf("league.max_participants %d is below min_participants %d",
			c.League.MaxParticipants, c.League.MinParticipants)
	}
	if c.League.RoundsPerMatchup < 1 {
		return fmt.Errorf("league.rounds_per_matchup must be at least 1, got %d", c.League.RoundsPerMatchup)
	}
	if c.League.AuthSecret == "" {
		return fmt.Errorf("league.auth_secret is required")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Loader reads configuration from an optional YAML file, then applies
// environment overrides on top of defaults.
type Loader struct {
	path      string
	envPrefix string
}

// NewLoader creates a Loader with no file and the LEAGUEFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "LEAGUEFLOW"}
}

// WithConfigPath sets the YAML file to load.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds the configuration: defaults, then file, then environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		raw, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.env("LEAGUE_ID"); v != "" {
		cfg.League.ID = v
	}
	if v := l.env("AUTH_SECRET"); v != "" {
		cfg.League.AuthSecret = v
	}
	if v := l.env("COORDINATOR_ENDPOINT"); v != "" {
		cfg.League.CoordinatorEndpoint = v
	}
	if v := l.env("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := l.env("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := l.env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := l.env("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := l.env("ROUNDS_PER_MATCHUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.League.RoundsPerMatchup = n
		}
	}
}

func (l *Loader) env(key string) string {
	return os.Getenv(l.envPrefix + "_" + key)
}

// NewLogger builds a zap logger from the log configuration.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
