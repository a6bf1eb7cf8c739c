package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "league-2026", cfg.League.ID)
	assert.Equal(t, "even_odd", cfg.League.GameType)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Match.JoinWindow)
	assert.Equal(t, 30*time.Second, cfg.Match.ChoiceWindow)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
league:
  id: summer-league
  rounds_per_matchup: 2
log:
  level: debug
  format: console
store:
  path: /tmp/league.db
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "summer-league", cfg.League.ID)
	assert.Equal(t, 2, cfg.League.RoundsPerMatchup)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/league.db", cfg.Store.Path)
	// Untouched sections keep defaults.
	assert.Equal(t, 2, cfg.League.MinParticipants)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("league:\n  id: from-file\n"), 0o644))
	t.Setenv("LEAGUEFLOW_LEAGUE_ID", "from-env")
	t.Setenv("LEAGUEFLOW_ROUNDS_PER_MATCHUP", "3")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.League.ID)
	assert.Equal(t, 3, cfg.League.RoundsPerMatchup)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_LEAGUE_ID", "prefixed")
	cfg, err := NewLoader().WithEnvPrefix("CUSTOM").Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.League.ID)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing league id", func(c *Config) { c.League.ID = "" }},
		{"min participants too low", func(c *Config) { c.League.MinParticipants = 1 }},
		{"max below min", func(c *Config) { c.League.MaxParticipants = 1 }},
		{"zero rounds", func(c *Config) { c.League.RoundsPerMatchup = 0 }},
		{"missing secret", func(c *Config) { c.League.AuthSecret = "" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Sync()

	logger, err = NewLogger(LogConfig{Level: "not-a-level", Format: "console"})
	require.NoError(t, err, "bad level falls back to info")
	logger.Sync()
}

func TestWatcherDetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("league:\n  id: a\n"), 0o644))

	var fired atomic.Int32
	w := NewWatcher(path, 10*time.Millisecond, zap.NewNop(), func() {
		fired.Add(1)
	})
	w.Start()
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		time.Second, 10*time.Millisecond)
}
