package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Match.HandSize)
	assert.Equal(t, 10, cfg.Match.RoundCount)
	assert.Equal(t, 60*time.Second, cfg.Match.RoundDuration)
	assert.Equal(t, 3*time.Second, cfg.Match.DisplayDelay)
	assert.Equal(t, 5, cfg.Match.FreeRoundLimit)
	assert.True(t, cfg.Match.AllowVoteChange)
	assert.True(t, cfg.Match.RejectSelfVote)
	assert.Equal(t, "frozen", cfg.Match.Readiness)
	assert.Equal(t, 3, cfg.Match.UploadConcurrency)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  driver: memory
match:
  hand_size: 5
  round_count: 5
  display_delay: 1s
  readiness: live
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("MATCH_ROUND_COUNT", "7")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Match.HandSize)
	assert.Equal(t, 7, cfg.Match.RoundCount)
	assert.Equal(t, time.Second, cfg.Match.DisplayDelay)
	assert.Equal(t, "live", cfg.Match.Readiness)
}

func TestLoadConfig_RejectsBadDriver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database:\n  driver: mysql\n"), 0o644))
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, LoadDotEnv(path), "a missing file is not an error")

	require.NoError(t, os.WriteFile(path, []byte("PICKLO_DOTENV_TEST=yes\n"), 0o644))
	t.Setenv("PICKLO_DOTENV_TEST", "")
	os.Unsetenv("PICKLO_DOTENV_TEST")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("PICKLO_DOTENV_TEST"))
}
