package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 34600, cfg.CorePort)
	assert.Equal(t, "~/.forkline/core.token", cfg.CoreTokenFile)
	assert.Equal(t, int64(2_000_000), cfg.MaxBodyBytes)
	assert.Equal(t, 64_000, cfg.MaxPTYWriteBytes)
	assert.Equal(t, 64, cfg.MaxSSEClients)
	assert.Equal(t, 1200, cfg.RateLimitPerMinute)
	assert.Equal(t, 256, cfg.MaxPTYSessions)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FORKLINE_CORE_PORT", "9999")
	t.Setenv("FORKLINE_CORE_MAX_PTY_WRITE_BYTES", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.CorePort)
	assert.Equal(t, 16, cfg.MaxPTYWriteBytes)

	os.Unsetenv("FORKLINE_CORE_PORT")
	os.Unsetenv("FORKLINE_CORE_MAX_PTY_WRITE_BYTES")
}
