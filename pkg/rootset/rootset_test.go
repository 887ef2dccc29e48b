package rootset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juergengeck/esp32/pkg/identity"
)

func writeRootSet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStaticProviderModes(t *testing.T) {
	path := writeRootSet(t, `
main_identity:
  - "sha256:aaaa"
fleet:
  - "sha256:bbbb"
  - "sha256:cccc"
`)

	p, err := NewStaticProvider(path)
	require.NoError(t, err)

	main := p.CurrentRoots(MainIdentity)
	assert.Len(t, main, 1)
	assert.Contains(t, main, identity.KeyID("sha256:aaaa"))

	all := p.CurrentRoots(All)
	assert.Len(t, all, 3)
	assert.Contains(t, all, identity.KeyID("sha256:aaaa"))
	assert.Contains(t, all, identity.KeyID("sha256:bbbb"))
	assert.Contains(t, all, identity.KeyID("sha256:cccc"))
}

func TestStaticProviderEmptyFile(t *testing.T) {
	p, err := NewStaticProvider(writeRootSet(t, "main_identity: []\nfleet: []\n"))
	require.NoError(t, err)

	assert.Empty(t, p.CurrentRoots(MainIdentity))
	assert.Empty(t, p.CurrentRoots(All))
}

func TestStaticProviderMissingFile(t *testing.T) {
	_, err := NewStaticProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestStaticProviderMalformedYAML(t *testing.T) {
	_, err := NewStaticProvider(writeRootSet(t, "main_identity: {not a list"))
	assert.Error(t, err)
}

func TestFileWatchProviderReload(t *testing.T) {
	path := writeRootSet(t, "main_identity:\n  - \"sha256:aaaa\"\n")

	p, err := NewFileWatchProvider(path)
	require.NoError(t, err)
	require.Contains(t, p.CurrentRoots(All), identity.KeyID("sha256:aaaa"))

	require.NoError(t, os.WriteFile(path, []byte("main_identity:\n  - \"sha256:dddd\"\n"), 0o600))
	require.NoError(t, p.Reload())

	roots := p.CurrentRoots(All)
	assert.Contains(t, roots, identity.KeyID("sha256:dddd"))
	assert.NotContains(t, roots, identity.KeyID("sha256:aaaa"))
}

func TestFileWatchProviderReloadFailureKeepsOldSet(t *testing.T) {
	path := writeRootSet(t, "main_identity:\n  - \"sha256:aaaa\"\n")

	p, err := NewFileWatchProvider(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.Error(t, p.Reload())

	assert.Contains(t, p.CurrentRoots(All), identity.KeyID("sha256:aaaa"),
		"a failed reload must not drop the active root set")
}
