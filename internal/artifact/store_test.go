package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	base := t.TempDir()
	s, err := NewFSStore(filepath.Join(base, "stable"), filepath.Join(base, "scratch"))
	require.NoError(t, err)
	return s
}

func testKey() Key {
	return Key{Kind: "panel", CanonicalPath: "panels/settings", Commit: "abc123def456"}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "panel/panels/settings@abc123def456", testKey().String())
}

func TestKeySegmentDisambiguates(t *testing.T) {
	a := Key{Kind: "panel", CanonicalPath: "a/b", Commit: "c"}
	b := Key{Kind: "panel", CanonicalPath: "a__b", Commit: "c"}
	assert.NotEqual(t, a.segment(), b.segment())
}

func TestCreateWorkspaceLayout(t *testing.T) {
	s := newTestStore(t)
	ws, err := s.CreateWorkspace(testKey())
	require.NoError(t, err)

	for _, dir := range []string{ws.BuildDir, ws.DepsDir, ws.NodeModulesDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(ws.DepsDir, "node_modules"), ws.NodeModulesDir)
}

func TestWorkspacesAreDistinct(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateWorkspace(testKey())
	require.NoError(t, err)
	b, err := s.CreateWorkspace(testKey())
	require.NoError(t, err)
	assert.NotEqual(t, a.BuildDir, b.BuildDir)
}

func TestPromoteAndStableExists(t *testing.T) {
	s := newTestStore(t)
	key := testKey()
	assert.False(t, s.StableExists(key))

	ws, err := s.CreateWorkspace(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.BuildDir, "bundle.js"), []byte("js"), 0o600))

	stable, err := s.Promote(ws.BuildDir, key)
	require.NoError(t, err)
	assert.True(t, s.StableExists(key))
	assert.Equal(t, s.StablePath(key), stable)

	data, err := os.ReadFile(filepath.Join(stable, "bundle.js"))
	require.NoError(t, err)
	assert.Equal(t, "js", string(data))
}

func TestPromoteIdempotent(t *testing.T) {
	s := newTestStore(t)
	key := testKey()

	first, err := s.CreateWorkspace(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.BuildDir, "bundle.js"), []byte("first"), 0o600))
	_, err = s.Promote(first.BuildDir, key)
	require.NoError(t, err)

	second, err := s.CreateWorkspace(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(second.BuildDir, "bundle.js"), []byte("second"), 0o600))
	stable, err := s.Promote(second.BuildDir, key)
	require.NoError(t, err)

	// The first complete promotion wins; the reader sees one complete build.
	data, err := os.ReadFile(filepath.Join(stable, "bundle.js"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// The losing candidate is gone.
	_, err = os.Stat(second.BuildDir)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupAfterPromotion(t *testing.T) {
	s := newTestStore(t)
	key := testKey()

	ws, err := s.CreateWorkspace(key)
	require.NoError(t, err)
	_, err = s.Promote(ws.BuildDir, key)
	require.NoError(t, err)

	require.NoError(t, ws.Cleanup())
	assert.True(t, s.StableExists(key), "cleanup must not touch the promoted artifact")

	_, err = os.Stat(ws.DepsDir)
	assert.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	key := testKey()

	ws, err := s.CreateWorkspace(key)
	require.NoError(t, err)
	_, err = s.Promote(ws.BuildDir, key)
	require.NoError(t, err)

	require.NoError(t, s.Remove(key))
	assert.False(t, s.StableExists(key))
}
