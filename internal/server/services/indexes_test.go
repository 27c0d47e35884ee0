package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/mirror"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"github.com/dmitrijs2005/pkgindex/internal/server/stage"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageUpdate(bases ...string) models.IndexConfigUpdate {
	u := models.IndexConfigUpdate{Type: ptr(common.IndexTypeStage)}
	if bases != nil {
		u.Bases = &bases
	}
	return u
}

func mirrorUpdate() models.IndexConfigUpdate {
	return models.IndexConfigUpdate{Type: ptr(common.IndexTypeMirror)}
}

// newRegistry creates root/pypi (a mirror) and alice.
func newRegistry(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.createUser(t, "root")
	env.createUser(t, "alice")
	_, err := env.indexes.SetIndexConfig(context.Background(), "root", "pypi", mirrorUpdate())
	require.NoError(t, err)
	return env
}

func TestGetIndexConfig_NotFound(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	_, err := env.indexes.GetIndexConfig(ctx, "ghost", "dev")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = env.indexes.GetIndexConfig(ctx, "alice", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetIndexConfig_MissingACLDefaultsToOwner(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	key := keyfs.USER.Key(env.kfs, "alice")
	require.NoError(t, key.LockedUpdate(ctx, func(u *models.User, _ bool) error {
		u.Indexes = map[string]*models.IndexConfig{
			"legacy": {Type: common.IndexTypeStage, Bases: []string{}},
		}
		return nil
	}))

	cfg, err := env.indexes.GetIndexConfig(ctx, "alice", "legacy")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, cfg.ACLUpload)

	rec, err := key.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec.Indexes["legacy"].ACLUpload, "read-time default is not persisted")
}

func TestSetIndexConfig_DefaultsAndNormalisation(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	cfg, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate("/root/pypi/"))
	require.NoError(t, err)

	assert.Equal(t, common.IndexTypeStage, cfg.Type)
	assert.Equal(t, []string{"root/pypi"}, cfg.Bases)
	assert.NotNil(t, cfg.ACLUpload)
	assert.Empty(t, cfg.ACLUpload)
	assert.Nil(t, cfg.UploadTriggerJenkins)

	got, err := env.indexes.GetIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.Empty(t, got.ACLUpload, "an explicitly empty ACL stays empty")
	assert.Empty(t, cmp.Diff(cfg, got))
}

func TestSetIndexConfig_MergesSuppliedFields(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	_, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", models.IndexConfigUpdate{
		Type:      ptr(common.IndexTypeStage),
		Volatile:  ptr(false),
		ACLUpload: &[]string{"alice", "bob"},
		Extra:     map[string]any{"pypi_whitelist": []any{"pkg"}},
	})
	require.NoError(t, err)

	cfg, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", models.IndexConfigUpdate{
		Bases:                &[]string{"root/pypi"},
		UploadTriggerJenkins: ptr("http://ci/job"),
	})
	require.NoError(t, err)

	assert.Equal(t, common.IndexTypeStage, cfg.Type)
	assert.False(t, cfg.Volatile)
	assert.Equal(t, []string{"alice", "bob"}, cfg.ACLUpload)
	assert.Equal(t, []string{"root/pypi"}, cfg.Bases)
	require.NotNil(t, cfg.UploadTriggerJenkins)
	assert.Equal(t, "http://ci/job", *cfg.UploadTriggerJenkins)
	assert.Contains(t, cfg.Extra, "pypi_whitelist")
}

func TestSetIndexConfig_ReportsEveryBadBase(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	before, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate("root/pypi"))
	require.NoError(t, err)

	_, err = env.indexes.SetIndexConfig(ctx, "alice", "dev", models.IndexConfigUpdate{
		Volatile: ptr(false),
		Bases:    &[]string{"nonsense", "ghost/index", "root/pypi", "/root/pypi", "a/b/c"},
	})

	var verr *common.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Messages, 4)

	after, err := env.indexes.GetIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after), "nothing written on validation failure")
}

func TestSetIndexConfig_UnknownTypeIsContractViolation(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	_, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", models.IndexConfigUpdate{Type: ptr("cache")})
	require.ErrorIs(t, err, common.ErrContractViolation)

	_, err = env.indexes.SetIndexConfig(ctx, "alice", "dev", models.IndexConfigUpdate{})
	require.ErrorIs(t, err, common.ErrContractViolation, "a new config needs a type")

	_, err = env.indexes.GetIndexConfig(ctx, "alice", "dev")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSetIndexConfig_UnknownUserAndBadName(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	_, err := env.indexes.SetIndexConfig(ctx, "ghost", "dev", stageUpdate())
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = env.indexes.SetIndexConfig(ctx, "alice", "..", stageUpdate())
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestSetIndexConfig_BadNameAndBadBasesReportedTogether(t *testing.T) {
	env := newRegistry(t)

	_, err := env.indexes.SetIndexConfig(context.Background(), "alice", "..", stageUpdate("ghost/index", "nonsense"))

	var verr *common.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Messages, 3)
	assert.Contains(t, verr.Messages[0], "index")
	assert.Contains(t, verr.Messages[1], "ghost/index")
	assert.Contains(t, verr.Messages[2], "nonsense")
}

func TestDeleteIndexConfig(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	_, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate())
	require.NoError(t, err)

	existed, err := env.indexes.DeleteIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = env.indexes.DeleteIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = env.indexes.DeleteIndexConfig(ctx, "ghost", "dev")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDeleteIndexConfig_KeepsData(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	_, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate())
	require.NoError(t, err)
	st, err := env.indexes.GetPrivateStage(ctx, "alice", "dev")
	require.NoError(t, err)
	require.NoError(t, st.ProjectAdd(ctx, "pkg"))

	_, err = env.indexes.DeleteIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err)

	exists, err := keyfs.PROJCONFIG.Key(env.kfs, "alice", "dev", "pkg").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	// restoring the config brings the data back
	_, err = env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate())
	require.NoError(t, err)
	st, err = env.indexes.GetPrivateStage(ctx, "alice", "dev")
	require.NoError(t, err)
	ok, err := st.ProjectExists(ctx, "pkg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteIndex_PurgesData(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	_, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate())
	require.NoError(t, err)
	st, err := env.indexes.GetPrivateStage(ctx, "alice", "dev")
	require.NoError(t, err)

	require.NoError(t, st.RegisterMetadata(ctx, &models.VersionMetadata{Name: "pkg", Version: "1.0"}))
	_, err = st.StoreReleaseFile(ctx, "pkg-1.0.tar.gz", []byte("sdist"))
	require.NoError(t, err)

	existed, err := env.indexes.DeleteIndex(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.True(t, existed)

	keys, err := env.kfs.Store().Keys(ctx, keyfs.IndexPrefix("alice", "dev"))
	require.NoError(t, err)
	assert.Empty(t, keys)
	dirExists, err := afero.DirExists(env.kfs.FS(), keyfs.INDEXDIR.Path("alice", "dev"))
	require.NoError(t, err)
	assert.False(t, dirExists)

	_, err = env.indexes.GetIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err, "the config is a separate deletion")

	existed, err = env.indexes.DeleteIndex(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.False(t, existed)
}

// countingBlobs records DeleteIndex calls on top of a real FS store.
type countingBlobs struct {
	*releasefile.FSStore
	deleted []string
	err     error
}

func (b *countingBlobs) DeleteIndex(ctx context.Context, user, index string) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	b.deleted = append(b.deleted, models.StageName(user, index))
	return b.FSStore.DeleteIndex(ctx, user, index)
}

func TestDeleteIndex_RemovesReleaseFiles(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	blobFS := afero.NewMemMapFs()
	blobs := &countingBlobs{FSStore: releasefile.NewFSStore(blobFS)}
	indexes := NewIndexService(env.kfs, blobs, nil, env.cfg, nil)

	_, err := indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate())
	require.NoError(t, err)
	st, err := indexes.GetPrivateStage(ctx, "alice", "dev")
	require.NoError(t, err)
	e, err := st.StoreReleaseFile(ctx, "pkg-1.0.tar.gz", []byte("sdist"))
	require.NoError(t, err)

	existed, err := indexes.DeleteIndex(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []string{"alice/dev"}, blobs.deleted)

	ok, err := afero.Exists(blobFS, e.Relpath)
	require.NoError(t, err)
	assert.False(t, ok)

	blobs.err = errDiskOnFire
	_, err = indexes.DeleteIndex(ctx, "alice", "dev")
	require.ErrorIs(t, err, errDiskOnFire)
}

func TestGetStage_Dispatch(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	_, err := env.indexes.SetIndexConfig(ctx, "alice", "dev", stageUpdate("root/pypi"))
	require.NoError(t, err)

	r, err := env.indexes.GetStage(ctx, "alice", "dev")
	require.NoError(t, err)
	_, ok := r.(*stage.Stage)
	assert.True(t, ok)

	m1, err := env.indexes.GetStageByName(ctx, "/root/pypi/")
	require.NoError(t, err)
	_, ok = m1.(*mirror.Stage)
	assert.True(t, ok)

	m2, err := env.indexes.GetStage(ctx, "root", "pypi")
	require.NoError(t, err)
	assert.Same(t, m1, m2, "mirror handles are shared")

	_, err = env.indexes.GetStage(ctx, "alice", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = env.indexes.GetStageByName(ctx, "nonsense")
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestGetPrivateStage_MirrorIsContractViolation(t *testing.T) {
	env := newRegistry(t)

	_, err := env.indexes.GetPrivateStage(context.Background(), "root", "pypi")
	require.ErrorIs(t, err, common.ErrContractViolation)
}

func TestCreateStage_Defaults(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	r, err := env.indexes.CreateStage(ctx, "alice", "dev", models.IndexConfigUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "alice/dev", r.Name())
	assert.Equal(t, []string{"root/pypi"}, r.Bases())

	cfg, err := env.indexes.GetIndexConfig(ctx, "alice", "dev")
	require.NoError(t, err)
	assert.Equal(t, common.IndexTypeStage, cfg.Type)
	assert.True(t, cfg.Volatile)

	r, err = env.indexes.CreateStage(ctx, "alice", "prod", models.IndexConfigUpdate{
		Volatile: ptr(false),
		Bases:    &[]string{"alice/dev"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/dev"}, r.Bases())
}

func TestListIndexes(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()
	for _, name := range []string{"prod", "dev", "staging"} {
		_, err := env.indexes.SetIndexConfig(ctx, "alice", name, stageUpdate())
		require.NoError(t, err)
	}

	names, err := env.indexes.ListIndexes(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "prod", "staging"}, names)

	_, err = env.indexes.ListIndexes(ctx, "ghost")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInheritedReadsThroughRegistry(t *testing.T) {
	env := newRegistry(t)
	ctx := context.Background()

	up, err := env.indexes.MirrorUpstream(ctx, "root", "pypi")
	require.NoError(t, err)
	require.NoError(t, up.SetLinks(ctx, "pkg", []string{"https://files.example.org/pkg-1.0.tar.gz"}))
	require.NoError(t, up.SetLinks(ctx, "other", []string{"https://files.example.org/other-0.1.zip"}))

	_, err = env.indexes.CreateStage(ctx, "alice", "dev", models.IndexConfigUpdate{})
	require.NoError(t, err)
	st, err := env.indexes.GetPrivateStage(ctx, "alice", "dev")
	require.NoError(t, err)
	require.NoError(t, st.RegisterMetadata(ctx, &models.VersionMetadata{Name: "pkg", Version: "2.0"}))
	_, err = st.StoreReleaseFile(ctx, "pkg-2.0.tar.gz", []byte("sdist"))
	require.NoError(t, err)

	links, err := st.GetReleaseLinks(ctx, "pkg")
	require.NoError(t, err)
	var basenames []string
	for _, l := range links {
		basenames = append(basenames, l.Basename)
	}
	assert.Equal(t, []string{"pkg-2.0.tar.gz", "pkg-1.0.tar.gz"}, basenames)

	names, err := st.GetProjectNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "pkg"}, names)

	_, err = env.indexes.MirrorUpstream(ctx, "alice", "dev")
	require.ErrorIs(t, err, common.ErrContractViolation)
}
