package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "kubectl", cfg.Cluster.ExecMode)
	assert.Equal(t, "python3", cfg.Channel.Interpreter)
	assert.Equal(t, 500*time.Millisecond, cfg.Channel.ReconnectDelay)
	assert.Equal(t, 600*time.Millisecond, cfg.FS.ListingTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Transfer.SampleInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.MinInterval)
	assert.Empty(t, cfg.Transfer.Destination)
	assert.False(t, cfg.FS.ReadOnly)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("EXEC_MODE", "websocket")
	t.Setenv("CHANNEL_RECONNECT_DELAY", "2s")
	t.Setenv("FS_READ_ONLY", "true")
	t.Setenv("TRANSFER_DESTINATION", "/tmp/dl")
	t.Setenv("STREAM_EMULATE", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "websocket", cfg.Cluster.ExecMode)
	assert.Equal(t, 2*time.Second, cfg.Channel.ReconnectDelay)
	assert.True(t, cfg.FS.ReadOnly)
	assert.Equal(t, "/tmp/dl", cfg.Transfer.Destination)
	assert.False(t, cfg.Stream.Emulate)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched values keep their defaults
	assert.Equal(t, 600*time.Millisecond, cfg.FS.ListingTTL)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("TRANSFER_COMPRESSION", "lzma")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	cfg := LoadOrDefault()
	assert.Equal(t, "gzip", cfg.Transfer.Compression)
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podfs.yaml")
	err := os.WriteFile(path, []byte(`
server:
  port: "8181"
channel:
  reconnect_delay: 250ms
  fail_pending_on_reset: true
transfer:
  destination: /data/downloads
  compression: zstd
`), 0o644)
	require.NoError(t, err)

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PORT", "9191")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Server.Port, "env overrides file")
	assert.Equal(t, 250*time.Millisecond, cfg.Channel.ReconnectDelay)
	assert.True(t, cfg.Channel.FailPendingOnReset)
	assert.Equal(t, "/data/downloads", cfg.Transfer.Destination)
	assert.Equal(t, "zstd", cfg.Transfer.Compression)
	assert.Equal(t, "python3", cfg.Channel.Interpreter, "file leaves other keys alone")
}

func TestMergeTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podfs.toml")
	err := os.WriteFile(path, []byte(`
[cluster]
namespace = "jobs"
exec_mode = "websocket"

[stream]
cols = 120
emulate = false
`), 0o644)
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, cfg.MergeFile(path))

	assert.Equal(t, "jobs", cfg.Cluster.Namespace)
	assert.Equal(t, "websocket", cfg.Cluster.ExecMode)
	assert.Equal(t, 120, cfg.Stream.Cols)
	assert.False(t, cfg.Stream.Emulate)
	assert.Equal(t, 50, cfg.Stream.Rows)
}

func TestMergeFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podfs.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))

	err := Default().MergeFile(path)
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestFlagsOverride(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := Load()
	require.NoError(t, err)

	fs := pflag.NewFlagSet("podfsd", pflag.ContinueOnError)
	cfg.BindClusterFlags(fs)
	cfg.BindServerFlags(fs)
	require.NoError(t, fs.Parse([]string{"-n", "jobs", "--read-only", "--exec-mode=websocket"}))

	assert.Equal(t, "jobs", cfg.Cluster.Namespace)
	assert.True(t, cfg.FS.ReadOnly)
	assert.Equal(t, "websocket", cfg.Cluster.ExecMode)
	assert.Equal(t, "9000", cfg.Server.Port, "unset flags keep the loaded value")
	assert.NoError(t, cfg.Validate())
}
