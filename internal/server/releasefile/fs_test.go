package releasefile

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_Store(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFSStore(fs)

	e, err := s.Store(context.Background(), "alice", "dev", "pkg-1.0.tar.gz", []byte("content"))
	require.NoError(t, err)

	assert.Equal(t, "pkg-1.0.tar.gz", e.Basename)
	assert.Len(t, e.SHA256, 64)
	assert.Equal(t, Relpath("alice", "dev", e.SHA256, "pkg-1.0.tar.gz"), e.Relpath)

	got, err := afero.ReadFile(fs, e.Relpath)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)

	ok, _ := afero.Exists(fs, e.Relpath+"-tmp")
	assert.False(t, ok)

	assert.Equal(t, &Entry{Basename: "pkg-1.0.tar.gz", Relpath: e.Relpath}, s.GetEntry(e.Relpath))
}

func TestFSStore_DifferentContentDifferentPath(t *testing.T) {
	s := NewFSStore(afero.NewMemMapFs())
	a, err := s.Store(context.Background(), "alice", "dev", "pkg-1.0.tar.gz", []byte("one"))
	require.NoError(t, err)
	b, err := s.Store(context.Background(), "alice", "dev", "pkg-1.0.tar.gz", []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Relpath, b.Relpath)
}

func TestFSStore_RejectsPathLikeNames(t *testing.T) {
	s := NewFSStore(afero.NewMemMapFs())
	for _, name := range []string{"", "..", "../evil.tar.gz", "a/b.tar.gz"} {
		_, err := s.Store(context.Background(), "alice", "dev", name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestFSStore_DeleteIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFSStore(fs)
	ctx := context.Background()

	a, err := s.Store(ctx, "alice", "dev", "pkg-1.0.tar.gz", []byte("one"))
	require.NoError(t, err)
	_, err = s.Store(ctx, "alice", "dev", "pkg-1.1.tar.gz", []byte("two"))
	require.NoError(t, err)
	other, err := s.Store(ctx, "alice", "dev2", "pkg-1.0.tar.gz", []byte("one"))
	require.NoError(t, err)

	n, err := s.DeleteIndex(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, _ := afero.Exists(fs, a.Relpath)
	assert.False(t, ok)
	ok, _ = afero.Exists(fs, other.Relpath)
	assert.True(t, ok, "other indexes keep their files")

	n, err = s.DeleteIndex(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.Zero(t, n)
}
