package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesOnlySpecifiedKnobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Host: nodea
Port: 9001
MaxQueue: 42
Members:
  - Host: nodeb
    Port: 9002
Subnets: ["-a", "-b"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "nodea", cfg.Host)
	require.Equal(t, 9001, cfg.Port)
	require.Equal(t, 42, cfg.MaxQueue)
	// Untouched knobs keep their default.
	require.Equal(t, Defaults().MaxBytes, cfg.MaxBytes)
	require.Equal(t, 5*time.Second, cfg.HeartbeatSendTime)
	require.Equal(t, []Member{{Host: "nodeb", Port: 9002}}, cfg.Members)
	require.Equal(t, []string{"-a", "-b"}, cfg.Subnets)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`Port: 9001`), 0o644))
	_, err := Load(path)
	require.Error(t, err, "missing Host must fail validation")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
