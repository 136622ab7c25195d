package envconfig

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	rt, err := Read()
	require.NoError(t, err)
	assert.Equal(t, "DEPOSIT_", rt.EnvPrefix)
	assert.Equal(t, "info", rt.LogLevel)
	assert.Equal(t, "deposits", rt.Queue)
	assert.Equal(t, 4, rt.WorkerConcurrency)
	assert.Equal(t, 10*time.Second, rt.ShutdownTimeout)
	assert.False(t, rt.AsyncDeposits)
}

func TestReadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ASYNC_DEPOSITS", "true")
	t.Setenv("WORKER_CONCURRENCY", "9")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	rt, err := Read()
	require.NoError(t, err)
	assert.Equal(t, "debug", rt.LogLevel)
	assert.True(t, rt.AsyncDeposits)
	assert.Equal(t, 9, rt.WorkerConcurrency)
	assert.Equal(t, 3*time.Second, rt.ShutdownTimeout)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	rt := &Runtime{LogLevel: "warn", LogFormat: "json"}
	logger, err := rt.Logger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = (&Runtime{LogLevel: "loud"}).Logger(&buf)
	assert.Error(t, err)
	_, err = (&Runtime{LogLevel: "info", LogFormat: "xml"}).Logger(&buf)
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_DEP_PACKAGE_FORMAT", "zip")
	t.Setenv("TEST_DEP_REDIS_ADDR", "redis:6380")

	rt := &Runtime{EnvPrefix: "TEST_DEP_"}
	cfg, err := rt.LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "zip", cfg.PackageFormat)
	assert.Equal(t, "redis:6380", RedisOpt(cfg).Addr)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
