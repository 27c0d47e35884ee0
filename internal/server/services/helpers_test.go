package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/config"
	"github.com/dmitrijs2005/pkgindex/internal/server/description"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"github.com/stretchr/testify/require"
)

var errDiskOnFire = errors.New("disk on fire")

// faultyStore fails every read of the paths listed in broken.
type faultyStore struct {
	*keyfs.MemoryStore
	broken map[string]bool
}

func (s *faultyStore) Get(ctx context.Context, path string) ([]byte, error) {
	if s.broken[path] {
		return nil, errDiskOnFire
	}
	return s.MemoryStore.Get(ctx, path)
}

type testEnv struct {
	cfg     *config.Config
	store   *faultyStore
	kfs     *keyfs.KeyFS
	users   *UserService
	indexes *IndexService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return newTestEnvWithConfig(t, cfg)
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	store := &faultyStore{MemoryStore: keyfs.NewMemoryStore(), broken: map[string]bool{}}
	kfs, err := keyfs.NewOnDisk(store, t.TempDir())
	require.NoError(t, err)

	logger := logging.NewNopLogger()
	return &testEnv{
		cfg:     cfg,
		store:   store,
		kfs:     kfs,
		users:   NewUserService(kfs, cfg, logger),
		indexes: NewIndexService(kfs, releasefile.NewFSStore(kfs.FS()), description.NewRenderer(), cfg, logger),
	}
}

func (e *testEnv) createUser(t *testing.T, user string) {
	t.Helper()
	_, err := e.users.Create(context.Background(), user, "secret", "")
	require.NoError(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
