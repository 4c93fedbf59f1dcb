package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, "0.0.0.0:3002", cfg.Addr)
	assert.Equal(t, defaultArtifactName, cfg.ArtifactName)
	assert.True(t, cfg.JournalEnabled)
	assert.True(t, cfg.ValidateArtifacts)
	assert.Equal(t, defaultInsertFlushInterval, cfg.InsertFlushInterval)
	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, "frontwatch.duckdb", filepath.Base(cfg.DBPath))
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FRONTWATCH_INSERT_BATCH_SIZE", "42")

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 4100
artifact-dir: ~/maps
insert-flush-interval: 2s
nats-url: nats://127.0.0.1:4222
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, "0.0.0.0:4100", cfg.Addr)
	assert.Equal(t, filepath.Join(home, "maps"), cfg.ArtifactDir)
	assert.Equal(t, 2*time.Second, cfg.InsertFlushInterval)
	assert.Equal(t, 42, cfg.InsertBatchSize)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FRONTWATCH_PORT", "70000")

	_, err := loadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/home/u/x", expandHome("/home/u", "~/x"))
	assert.Equal(t, "/abs/x", expandHome("/home/u", "/abs/x"))
	assert.Equal(t, "", expandHome("/home/u", ""))
}
