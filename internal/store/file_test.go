package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir + "/nested")

	_, err := s.Get(ctx, "table.json")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "table.json", []byte(`{"version":1}`)))
	require.NoError(t, s.Put(ctx, "table.json", []byte(`{"version":2}`)))

	data, err := s.Get(ctx, "table.json")
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(data))

	entries, err := os.ReadDir(dir + "/nested")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	info, err := os.Stat(s.Path("table.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestFileStoreRejectsPaths(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, name := range []string{"", "../escape.json", "a/b.json", ".hidden"} {
		assert.Error(t, s.Put(context.Background(), name, nil), name)
		_, err := s.Get(context.Background(), name)
		assert.Error(t, err, name)
	}
}
