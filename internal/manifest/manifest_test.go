package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestRegistryManifestAndFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "cl.exe", []byte("compiler-bytes"))

	reg := NewRegistry()
	reg.Register(Manifest{
		ToolID: 42,
		Files:  []FileEntry{{FileID: 1, Path: path, Size: 14}},
	})

	m, err := reg.Manifest(42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), m.ToolID)

	data, err := reg.File(42, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("compiler-bytes"), data)
}

func TestRegistryUnknownToolAndFile(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Manifest(1)
	var toolErr *ErrToolNotFound
	require.ErrorAs(t, err, &toolErr)

	reg.Register(Manifest{ToolID: 1})
	_, err = reg.File(1, 99)
	var fileErr *ErrFileNotFound
	require.ErrorAs(t, err, &fileErr)
}

func TestCachedProviderCachesFileContent(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "tool.bin", []byte("abc"))

	reg := NewRegistry()
	reg.Register(Manifest{ToolID: 1, Files: []FileEntry{{FileID: 1, Path: path, Size: 3}}})
	cached := NewCachedProvider(reg, 1024)

	data, err := cached.File(1, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)

	require.NoError(t, os.Remove(path))

	// second read hits the cache, so removing the backing file doesn't matter
	data, err = cached.File(1, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)
}

func TestManifestMarshalRoundTrip(t *testing.T) {
	m := Manifest{
		ToolID: 99,
		Files: []FileEntry{
			{FileID: 1, Path: "cl.exe", Size: 1024},
			{FileID: 2, Path: "mspdbcore.dll", Size: 2048},
		},
	}

	got, err := Unmarshal(m.Marshal())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestCachedProviderPropagatesManifest(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Manifest{ToolID: 7, Files: []FileEntry{{FileID: 1, Path: "x", Size: 1}}})
	cached := NewCachedProvider(reg, 1024)

	m, err := cached.Manifest(7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), m.ToolID)
}
