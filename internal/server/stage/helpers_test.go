package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/description"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"github.com/stretchr/testify/require"
)

type testLocator struct {
	stages map[string]Reader
}

func (l *testLocator) GetStageByName(_ context.Context, name string) (Reader, error) {
	r, ok := l.stages[name]
	if !ok {
		return nil, &common.NotFoundError{Kind: "index", Name: name}
	}
	return r, nil
}

type testEnv struct {
	kfs  *keyfs.KeyFS
	loc  *testLocator
	deps Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kfs, err := keyfs.NewOnDisk(keyfs.NewMemoryStore(), t.TempDir())
	require.NoError(t, err)
	loc := &testLocator{stages: map[string]Reader{}}
	return &testEnv{
		kfs: kfs,
		loc: loc,
		deps: Deps{
			KeyFS:    kfs,
			Blobs:    releasefile.NewFSStore(kfs.FS()),
			Renderer: description.NewRenderer(),
			Locator:  loc,
			Logger:   logging.NewNopLogger(),
		},
	}
}

func (e *testEnv) newStage(user, index string, volatile bool, bases ...string) *Stage {
	cfg := &models.IndexConfig{
		Type:      common.IndexTypeStage,
		Volatile:  volatile,
		Bases:     bases,
		ACLUpload: []string{user},
	}
	s := New(user, index, cfg, e.deps)
	e.loc.stages[s.Name()] = s
	return s
}

// faultyReader fails every read with err.
type faultyReader struct {
	name string
	err  error
}

func (f *faultyReader) Name() string    { return f.name }
func (f *faultyReader) Bases() []string { return nil }

func (f *faultyReader) GetProjectConfigPerStage(context.Context, string) (*models.ProjectConfig, error) {
	return nil, f.err
}

func (f *faultyReader) GetReleaseLinksPerStage(context.Context, string) ([]*releasefile.Entry, error) {
	return nil, f.err
}

func (f *faultyReader) GetProjectNamesPerStage(context.Context) ([]string, error) {
	return nil, f.err
}

func (f *faultyReader) GetProjectConfig(ctx context.Context, name string) (*models.ProjectConfig, error) {
	return f.GetProjectConfigPerStage(ctx, name)
}

func (f *faultyReader) GetReleaseLinks(ctx context.Context, name string) ([]*releasefile.Entry, error) {
	return f.GetReleaseLinksPerStage(ctx, name)
}

func (f *faultyReader) GetProjectNames(ctx context.Context) ([]string, error) {
	return f.GetProjectNamesPerStage(ctx)
}

var errDiskOnFire = errors.New("disk on fire")

// failingRenderer always fails.
type failingRenderer struct{}

func (failingRenderer) Render(string) ([]byte, error) { return nil, errors.New("bad markup") }
