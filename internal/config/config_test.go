package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strainline/internal/match"
	"github.com/roach88/strainline/internal/store"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "strainline.db", cfg.DBPath)
	assert.Equal(t, match.DefaultMinScore, cfg.Match.MinScore)
	assert.Equal(t, match.DefaultWeights, cfg.Match.Weights)
	assert.Equal(t, store.DefaultWriteTimeout, cfg.Store.WriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.Notify.HandlerTimeout)
	assert.Equal(t, 64, cfg.Notify.QueueSize)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.IdleTTL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strainline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/strainline/lineage.db
alias_file: aliases.cue
match:
  min_score: 0.6
  weights:
    name: 0.7
    vendor: 0.1
    type: 0.1
    weight: 0.1
store:
  write_timeout: 10s
  reconcile: true
sessions:
  idle_ttl: 30m
  max_sessions: 8
redis:
  addr: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/strainline/lineage.db", cfg.DBPath)
	assert.Equal(t, "aliases.cue", cfg.AliasFile)
	assert.Equal(t, 0.6, cfg.Match.MinScore)
	assert.Equal(t, match.Weights{Name: 0.7, Vendor: 0.1, Type: 0.1, Weight: 0.1}, cfg.Match.Weights)
	assert.Equal(t, 10*time.Second, cfg.Store.WriteTimeout)
	assert.True(t, cfg.Store.Reconcile)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, 8, cfg.Sessions.MaxSessions)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, match.DefaultParallelism, cfg.Match.Parallelism)
	assert.Equal(t, "strainline:lineage", cfg.Redis.Channel)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("match: [unclosed"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("match:\n  min_score: 1.5\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "min_score")
}

func TestLoad_ExplicitZeroMinScoreIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.yaml")
	require.NoError(t, os.WriteFile(path, []byte("match:\n  min_score: 0\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "min_score")
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/env.db")
	t.Setenv(EnvRedisAddr, "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAliasFile: "/etc/strainline/aliases.cue",
		EnvLogLevel:  "debug",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "/etc/strainline/aliases.cue", cfg.AliasFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "strainline.db", cfg.DBPath)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.LogLevel = "loud"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Match.Weights.Vendor = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.WriteTimeout = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Match.MinScore = 0
	cfg.ApplyDefaults()
	assert.Zero(t, cfg.Match.MinScore, "zero min_score is not silently replaced")
	assert.ErrorContains(t, cfg.Validate(), "min_score")

	cfg = Default()
	cfg.Notify.QueueSize = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("STRAINLINE_ALIAS_FILE=/from/dotenv.cue\n"), 0o644))

	// Registers cleanup that restores the variable after the test.
	t.Setenv(EnvAliasFile, "")
	require.NoError(t, os.Unsetenv(EnvAliasFile))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "/from/dotenv.cue", os.Getenv(EnvAliasFile))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Redis.Addr = "localhost:6379"
	cfg.Store.WriteTimeout = 9 * time.Second
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
