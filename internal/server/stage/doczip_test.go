package stage

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestMemberPath(t *testing.T) {
	good := map[string]string{
		"index.html":         "index.html",
		"sub/page.html":      "sub/page.html",
		"sub/":               "sub",
		"a/../b.html":        "b.html",
		`win\style\file.txt`: "win/style/file.txt",
	}
	for in, want := range good {
		got, ok := memberPath(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"../evil", "/etc/passwd", "a/../../evil", `..\evil`, "", "."} {
		_, ok := memberPath(in)
		assert.False(t, ok, in)
	}
}

func TestStoreDoczip_PublishesAndReplaces(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.newStage("alice", "dev", true)
	fs := env.kfs.FS()

	target, err := s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{
		"index.html":     "v1",
		"api/page.html":  "api",
		"static/":        "",
		"static/app.css": "css",
	}))
	require.NoError(t, err)
	assert.Equal(t, keyfs.STAGEDOCS.Path("alice", "dev", "pkg"), target)

	got, err := afero.ReadFile(fs, filepath.Join(target, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	info, err := keyfs.DOCINFO.Key(env.kfs, "alice", "dev", "pkg").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Files)

	_, err = s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{"index.html": "v2"}))
	require.NoError(t, err)

	got, err = afero.ReadFile(fs, filepath.Join(target, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	ok, _ := afero.Exists(fs, filepath.Join(target, "api", "page.html"))
	assert.False(t, ok, "the old tree is replaced, not merged")
	ok, _ = afero.Exists(fs, filepath.Join(filepath.Dir(target), "old-+doc"))
	assert.False(t, ok, "the old tree is cleaned up")

	entries, err := afero.ReadDir(fs, ".tmp")
	require.NoError(t, err)
	assert.Empty(t, entries, "no scratch directories are left behind")
}

func TestStoreDoczip_RejectsEscapingMembers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.newStage("alice", "dev", true)

	target, err := s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{"index.html": "good"}))
	require.NoError(t, err)

	_, err = s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{
		"index.html":       "evil",
		"../escape.html":   "x",
		"a/../../out.html": "y",
	}))
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"invalid path name: ../escape.html", "invalid path name: a/../../out.html"}, verr.Messages)

	got, err := afero.ReadFile(env.kfs.FS(), filepath.Join(target, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "good", string(got), "the published tree is untouched")

	ok, _ := afero.Exists(env.kfs.FS(), filepath.Join("alice", "dev", "escape.html"))
	assert.False(t, ok)
}

func TestStoreDoczip_FailureKeepsDocInfo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.newStage("alice", "dev", true)
	key := keyfs.DOCINFO.Key(env.kfs, "alice", "dev", "pkg")

	_, err := s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{"index.html": "good"}))
	require.NoError(t, err)
	before, err := key.Get(ctx)
	require.NoError(t, err)

	_, err = s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{"../escape.html": "x"}))
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = s.StoreDoczip(ctx, "pkg", []byte("not a zip"))
	require.ErrorIs(t, err, common.ErrorValidation)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.StoreDoczip(cancelled, "pkg", makeZip(t, map[string]string{"index.html": "new"}))
	require.ErrorIs(t, err, context.Canceled)

	after, err := key.Get(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("doc info changed by failed uploads (-before +after):\n%s", diff)
	}

	got, err := afero.ReadFile(env.kfs.FS(), filepath.Join(keyfs.STAGEDOCS.Path("alice", "dev", "pkg"), "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "good", string(got))

	entries, err := afero.ReadDir(env.kfs.FS(), ".tmp")
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories are removed")

	_, err = keyfs.DOCINFO.Key(env.kfs, "alice", "dev", "other").Get(ctx)
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = s.StoreDoczip(ctx, "other", makeZip(t, map[string]string{"../x": "x"}))
	require.Error(t, err)
	_, err = keyfs.DOCINFO.Key(env.kfs, "alice", "dev", "other").Get(ctx)
	require.ErrorIs(t, err, common.ErrorNotFound, "a failed first upload records nothing")
}

func TestStoreDoczip_InvalidArchive(t *testing.T) {
	s := newTestEnv(t).newStage("alice", "dev", true)

	_, err := s.StoreDoczip(context.Background(), "pkg", []byte("not a zip"))
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = s.StoreDoczip(context.Background(), "pkg", nil)
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestSwapTree_RestoresOldTreeWhenMoveFails(t *testing.T) {
	fs := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	require.NoError(t, fs.MkdirAll("docs", 0o770))
	require.NoError(t, afero.WriteFile(fs, "docs/index.html", []byte("old"), 0o660))

	_, err := swapTree(fs, "missing-staged-dir", "docs")
	require.Error(t, err)

	got, err := afero.ReadFile(fs, "docs/index.html")
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

func TestDocFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).newStage("alice", "dev", true)

	_, err := s.DocFiles(ctx, "pkg", "")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = s.StoreDoczip(ctx, "pkg", makeZip(t, map[string]string{
		"index.html":     "",
		"api/page.html":  "",
		"static/app.css": "",
	}))
	require.NoError(t, err)

	all, err := s.DocFiles(ctx, "pkg", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index.html", "api/page.html", "static/app.css"}, all)

	html, err := s.DocFiles(ctx, "pkg", "**/*.html")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index.html", "api/page.html"}, html)

	_, err = s.DocFiles(ctx, "pkg", "[")
	assert.ErrorIs(t, err, common.ErrorValidation)
}
