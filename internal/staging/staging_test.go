package staging

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"dicomconv/internal/apperr"
)

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"scan.dcm":             "scan.dcm",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\scan.dcm`: "scan.dcm",
		"":                     "upload",
		"..":                   "upload",
		"/":                    "upload",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeName(in), in)
	}
}

func TestStem(t *testing.T) {
	assert.Equal(t, "scan", Stem("dir/scan.dcm"))
	assert.Equal(t, "IMG0001", Stem("IMG0001"))
	assert.Equal(t, ".hidden", Stem(".hidden"))
}

func TestAreasAreIsolated(t *testing.T) {
	root, err := NewRoot(filepath.Join(t.TempDir(), "staging"), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			area, err := root.Acquire()
			if !assert.NoError(t, err) {
				return
			}
			defer area.Release()

			want := []byte{byte(i)}
			path, err := area.Write("same.dcm", want)
			if !assert.NoError(t, err) {
				return
			}
			got, err := os.ReadFile(path)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, root.Active())
	entries, err := os.ReadDir(root.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAreaRepeatedNames(t *testing.T) {
	root, err := NewRoot(t.TempDir(), nil)
	require.NoError(t, err)
	area, err := root.Acquire()
	require.NoError(t, err)

	a, err := area.Write("x.dcm", []byte("a"))
	require.NoError(t, err)
	b, err := area.Write("x.dcm", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	require.NoError(t, area.Release())
	require.NoError(t, area.Release())
	assert.NoDirExists(t, area.Dir)
}

func TestRootClosePurges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	root, err := NewRoot(dir, nil)
	require.NoError(t, err)
	_, err = root.Acquire()
	require.NoError(t, err)

	require.NoError(t, root.Close())
	assert.NoDirExists(t, dir)
}

func TestStorePublishAndLookup(t *testing.T) {
	tmp := t.TempDir()
	store, err := OpenStore(filepath.Join(tmp, "artifacts"))
	require.NoError(t, err)

	src := filepath.Join(tmp, "out.png")
	content := []byte("fake png bytes")
	require.NoError(t, os.WriteFile(src, content, 0644))

	a, err := store.Publish(src)
	require.NoError(t, err)
	assert.NoFileExists(t, src)
	assert.FileExists(t, a.Path)
	assert.Contains(t, a.Name, "out.png")
	assert.Equal(t, int64(len(content)), a.Size)

	sum := blake3.Sum256(content)
	assert.Len(t, a.Digest, 64)
	assert.Equal(t, hex.EncodeToString(sum[:]), a.Digest)

	got, err := store.Lookup(a.Name)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = store.Lookup("nope")
	assert.ErrorIs(t, err, apperr.NotFound)
	_, err = store.Lookup("../etc/passwd")
	assert.ErrorIs(t, err, apperr.Validation)

	require.NoError(t, store.Close())
	assert.NoFileExists(t, a.Path)
	assert.Equal(t, 0, store.Len())
}

func TestStoreNamesAreUnique(t *testing.T) {
	tmp := t.TempDir()
	store, err := OpenStore(filepath.Join(tmp, "artifacts"))
	require.NoError(t, err)

	names := map[string]bool{}
	for i := 0; i < 5; i++ {
		src := filepath.Join(tmp, "same.jpeg")
		require.NoError(t, os.WriteFile(src, []byte{byte(i)}, 0644))
		a, err := store.Publish(src)
		require.NoError(t, err)
		names[a.Name] = true
	}
	assert.Len(t, names, 5)
}
