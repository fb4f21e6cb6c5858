package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/showermat/squashserve/pkg/sorted"
)

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestBuildAndQuery(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "fox.html", "the quick brown fox")
	writeDoc(t, root, "dog.html", "lazy dog")

	records := []Record{
		{Title: "The Quick Brown Fox", Value: 1, Path: "fox.html"},
		{Title: "Lazy Dog", Value: 2, Path: "dog.html"},
	}
	require.NoError(t, Build(root, records, sorted.NewMemoryKeyValue(), nil))

	v, err := Open(root)
	require.NoError(t, err)
	defer v.Close()

	path, found, err := v.ExactTitle("The Quick Brown Fox")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "fox.html", path)

	_, found, err = v.ExactTitle("brown")
	require.NoError(t, err)
	require.False(t, found)

	pages, hits, err := v.Titles("dog", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, pages)
	require.Len(t, hits, 1)
	require.Equal(t, "Lazy Dog", hits[0].Title)

	f, err := v.Open(1)
	require.NoError(t, err)
	defer f.Close()
	data, err := os.ReadFile(filepath.Join(root, "fox.html"))
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
