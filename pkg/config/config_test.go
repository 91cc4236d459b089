package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TARIC_CHAIN_BACKEND", "")
	t.Setenv("TARIC_ENTRY_LOG", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.ChainBackend)
	assert.Equal(t, "file", cfg.EntryLogBackend)
	assert.Equal(t, "server-key-1", cfg.SignerID)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TARIC_CHAIN_BACKEND", "redis")
	t.Setenv("TARIC_OTEL_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis", cfg.ChainBackend)
	assert.True(t, cfg.OTelEnabled)
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("PORT", "9090")
	path := filepath.Join(t.TempDir(), "taric.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
signer_id: attestor-eu-1
entry_log_backend: sqlite
entry_log_path: /var/lib/taric/taric.db
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "attestor-eu-1", cfg.SignerID)
	assert.Equal(t, "sqlite", cfg.EntryLogBackend)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
