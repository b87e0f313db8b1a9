package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coterm/coterm-core/paths"
)

// setTestDirs points all path resolution at a fresh temp tree.
func setTestDirs(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	paths.Reset()
	t.Cleanup(paths.Reset)
	return tmp
}

func TestDeriveKeyIsStable(t *testing.T) {
	setTestDirs(t)

	k1, err := DeriveKey()
	require.NoError(t, err)
	require.Len(t, k1, keyLength)

	k2, err := DeriveKey()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(k1, k2), "repeated derivation must yield the same key")
}

func TestDeriveKeyCreatesMachineSecret(t *testing.T) {
	setTestDirs(t)

	_, err := DeriveKey()
	require.NoError(t, err)

	path, err := paths.MachineSecretPath()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, int64(machineSecretLength), info.Size())
}

func TestDeriveKeyChangesWithMachineSecret(t *testing.T) {
	setTestDirs(t)

	k1, err := DeriveKey()
	require.NoError(t, err)

	path, err := paths.MachineSecretPath()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, machineSecretLength), 0o600))

	k2, err := DeriveKey()
	require.NoError(t, err)
	assert.False(t, bytes.Equal(k1, k2), "key must depend on the machine secret")
}

func TestDeriveKeyFallsBackWhenSecretUnavailable(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	// Point the config home at a regular file so the secret can neither be
	// read nor created under it.
	blocker := filepath.Join(tmp, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	t.Setenv("XDG_CONFIG_HOME", blocker)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	paths.Reset()
	t.Cleanup(paths.Reset)

	key, err := DeriveKey()
	require.NoError(t, err, "degraded derivation must still succeed")
	assert.Len(t, key, keyLength)
}
