package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/tmp/9p.sock", cfg.SocketPath)
	assert.Equal(t, "qemu_x86", cfg.Board)
	assert.Equal(t, "build", cfg.BuildDir)
	assert.Equal(t, 32, cfg.MemoryMB)
	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout.Std())
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	content := "socket: /tmp/other.sock\nmemory_mb: 64\nready_timeout: 10s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.sock", cfg.SocketPath)
	assert.Equal(t, 64, cfg.MemoryMB)
	assert.Equal(t, 10*time.Second, cfg.ReadyTimeout.Std())

	// untouched keys keep their defaults
	assert.Equal(t, "qemu_x86", cfg.Board)
	assert.Equal(t, "build", cfg.BuildDir)
}

func TestLoadFindsFileInAncestor(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("board: qemu_cortex_m3\n"), 0644))

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, "qemu_cortex_m3", cfg.Board)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("ready_timeout: soon\n"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}
