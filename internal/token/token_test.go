package token

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_EnvOverrideWins(t *testing.T) {
	r, err := Resolve("env-token", filepath.Join(t.TempDir(), "core.token"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", r.Value)
	assert.Equal(t, SourceEnv, r.Source)
}

func TestResolve_GeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "core.token")

	r, err := Resolve("", path)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, r.Source)
	assert.NotEmpty(t, r.Value)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Second call reads back the same persisted token.
	r2, err := Resolve("", path)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, r2.Source)
	assert.Equal(t, r.Value, r2.Value)
}

func TestEqual_MatchesOnlyIdenticalNonEmptyToken(t *testing.T) {
	assert.True(t, Equal("secret", "secret"))
	assert.False(t, Equal("secret", "secre"))
	assert.False(t, Equal("secret", ""))
	assert.False(t, Equal("", "anything"))
}
