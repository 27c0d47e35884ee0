package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/config"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/mirror"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"github.com/dmitrijs2005/pkgindex/internal/server/stage"
	"github.com/spf13/afero"
)

// DefaultBases are the bases CreateStage uses when none are given.
var DefaultBases = []string{"root/pypi"}

// IndexService manages index configs and hands out stage handles. It is
// the stage.Locator every stage resolves its bases with.
type IndexService struct {
	kfs      *keyfs.KeyFS
	blobs    releasefile.Store
	renderer stage.Renderer
	breaker  mirror.BreakerOptions
	logger   logging.Logger

	mu      sync.Mutex
	mirrors map[string]*mirror.Stage
}

var _ stage.Locator = (*IndexService)(nil)

func NewIndexService(kfs *keyfs.KeyFS, blobs releasefile.Store, renderer stage.Renderer, cfg *config.Config, logger logging.Logger) *IndexService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	breaker := mirror.DefaultBreakerOptions()
	if cfg.MirrorBreakerThreshold > 0 {
		breaker.Threshold = cfg.MirrorBreakerThreshold
	}
	if cfg.MirrorBreakerInterval > 0 {
		breaker.InitialInterval = cfg.MirrorBreakerInterval
	}
	return &IndexService{
		kfs:      kfs,
		blobs:    blobs,
		renderer: renderer,
		breaker:  breaker,
		logger:   logger.With("module", "indexes"),
		mirrors:  make(map[string]*mirror.Stage),
	}
}

func (s *IndexService) userKey(user string) keyfs.Key[models.User] {
	return keyfs.USER.Key(s.kfs, user)
}

// GetIndexConfig returns a copy of the config of user/index. A config
// stored without acl_upload is returned with the owner as sole uploader.
func (s *IndexService) GetIndexConfig(ctx context.Context, user, index string) (*models.IndexConfig, error) {
	u, err := s.userKey(user).Get(ctx)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, &common.NotFoundError{Kind: "index", Name: models.StageName(user, index)}
		}
		return nil, err
	}
	cfg, ok := u.Indexes[index]
	if !ok || cfg == nil {
		return nil, &common.NotFoundError{Kind: "index", Name: models.StageName(user, index)}
	}
	cfg = cfg.Clone()
	if cfg.ACLUpload == nil {
		cfg.ACLUpload = []string{user}
	}
	return cfg, nil
}

// checkBases resolves every base reference and returns them normalised,
// together with one message per bad reference.
func (s *IndexService) checkBases(ctx context.Context, bases []string) ([]string, []string, error) {
	var msgs []string
	normalized := make([]string, 0, len(bases))
	seen := make(map[string]struct{}, len(bases))

	for _, base := range bases {
		user, index, err := models.SplitStageName(base)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("invalid base index spec: %q", base))
			continue
		}
		name := models.StageName(user, index)
		if _, dup := seen[name]; dup {
			msgs = append(msgs, fmt.Sprintf("duplicate base index %q", base))
			continue
		}
		seen[name] = struct{}{}

		if _, err := s.GetIndexConfig(ctx, user, index); err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return nil, nil, err
			}
			msgs = append(msgs, fmt.Sprintf("base index %q does not exist", base))
			continue
		}
		normalized = append(normalized, name)
	}
	return normalized, msgs, nil
}

// SetIndexConfig validates u and merges it into the config of user/index,
// creating the config if needed. Nothing is written when any base is
// invalid. The owning user must exist.
func (s *IndexService) SetIndexConfig(ctx context.Context, user, index string, u models.IndexConfigUpdate) (*models.IndexConfig, error) {
	var msgs []string
	if msg := models.CheckName("index", index); msg != "" {
		msgs = append(msgs, msg)
	}
	if u.Bases != nil {
		bases, baseMsgs, err := s.checkBases(ctx, *u.Bases)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, baseMsgs...)
		u.Bases = &bases
	}
	if err := common.NewValidationError(msgs); err != nil {
		return nil, err
	}

	var result *models.IndexConfig
	err := s.userKey(user).LockedUpdate(ctx, func(rec *models.User, exists bool) error {
		if !exists {
			return &common.NotFoundError{Kind: "user", Name: user}
		}
		if rec.Indexes == nil {
			rec.Indexes = make(map[string]*models.IndexConfig)
		}
		cfg := rec.Indexes[index].Clone()
		if cfg == nil {
			cfg = &models.IndexConfig{}
		}
		u.Apply(cfg)

		if cfg.Type != common.IndexTypeStage && cfg.Type != common.IndexTypeMirror {
			return fmt.Errorf("index %s: unknown type %q: %w", models.StageName(user, index), cfg.Type, common.ErrContractViolation)
		}
		if cfg.Bases == nil {
			cfg.Bases = []string{}
		}
		if cfg.ACLUpload == nil {
			cfg.ACLUpload = []string{}
		}

		rec.Indexes[index] = cfg
		result = cfg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "index configured", "index", models.StageName(user, index), "type", result.Type, "bases", result.Bases)
	return result, nil
}

// DeleteIndexConfig removes the config of user/index. Its data stays in
// place until DeleteIndex is called.
func (s *IndexService) DeleteIndexConfig(ctx context.Context, user, index string) (bool, error) {
	existed := false
	err := s.userKey(user).LockedUpdate(ctx, func(rec *models.User, exists bool) error {
		if !exists {
			return keyfs.ErrUnchanged
		}
		if _, ok := rec.Indexes[index]; !ok {
			return keyfs.ErrUnchanged
		}
		delete(rec.Indexes, index)
		existed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.forgetMirror(models.StageName(user, index))
	if existed {
		s.logger.Info(ctx, "index config deleted", "index", models.StageName(user, index))
	} else {
		s.logger.Info(ctx, "index config does not exist", "index", models.StageName(user, index))
	}
	return existed, nil
}

// DeleteIndex purges the data of user/index: every record below it, its
// release files in the blob store and its directory on the data tree. The
// config is left alone.
func (s *IndexService) DeleteIndex(ctx context.Context, user, index string) (bool, error) {
	if msg := models.CheckName("index", index); msg != "" {
		return false, common.NewValidationError([]string{msg})
	}

	dir := keyfs.INDEXDIR.Path(user, index)
	dirExists, err := afero.DirExists(s.kfs.FS(), dir)
	if err != nil {
		return false, err
	}

	n, err := s.kfs.Store().DeletePrefix(ctx, keyfs.IndexPrefix(user, index))
	if err != nil {
		return false, err
	}
	blobs, err := s.blobs.DeleteIndex(ctx, user, index)
	if err != nil {
		return false, fmt.Errorf("delete release files of %s: %w", models.StageName(user, index), err)
	}
	if n == 0 && blobs == 0 && !dirExists {
		return false, nil
	}
	if err := s.kfs.FS().RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove %s: %w", dir, err)
	}

	s.logger.Info(ctx, "index deleted", "index", models.StageName(user, index), "records", n, "files", blobs)
	return true, nil
}

// GetStage returns the read handle of user/index: a *stage.Stage or a
// *mirror.Stage depending on the config type.
func (s *IndexService) GetStage(ctx context.Context, user, index string) (stage.Reader, error) {
	cfg, err := s.GetIndexConfig(ctx, user, index)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case common.IndexTypeStage:
		return s.newStage(user, index, cfg), nil
	case common.IndexTypeMirror:
		return s.mirrorStage(user, index), nil
	default:
		return nil, fmt.Errorf("index %s: unknown type %q: %w", models.StageName(user, index), cfg.Type, common.ErrContractViolation)
	}
}

// GetStageByName resolves "user/index".
func (s *IndexService) GetStageByName(ctx context.Context, name string) (stage.Reader, error) {
	user, index, err := models.SplitStageName(name)
	if err != nil {
		return nil, common.NewValidationError([]string{err.Error()})
	}
	return s.GetStage(ctx, user, index)
}

// GetPrivateStage returns the writable handle of user/index. Mirrors have
// none and yield common.ErrContractViolation.
func (s *IndexService) GetPrivateStage(ctx context.Context, user, index string) (*stage.Stage, error) {
	cfg, err := s.GetIndexConfig(ctx, user, index)
	if err != nil {
		return nil, err
	}
	if cfg.Type != common.IndexTypeStage {
		return nil, fmt.Errorf("index %s is a %s: %w", models.StageName(user, index), cfg.Type, common.ErrContractViolation)
	}
	return s.newStage(user, index, cfg), nil
}

// CreateStage configures user/index as a volatile stage inheriting from
// DefaultBases, unless u says otherwise, and returns its handle.
func (s *IndexService) CreateStage(ctx context.Context, user, index string, u models.IndexConfigUpdate) (stage.Reader, error) {
	if u.Type == nil {
		t := common.IndexTypeStage
		u.Type = &t
	}
	if u.Bases == nil {
		bases := slices.Clone(DefaultBases)
		u.Bases = &bases
	}
	if u.Volatile == nil {
		v := true
		u.Volatile = &v
	}
	if _, err := s.SetIndexConfig(ctx, user, index, u); err != nil {
		return nil, err
	}
	return s.GetStage(ctx, user, index)
}

// ListIndexes returns the sorted index names of user.
func (s *IndexService) ListIndexes(ctx context.Context, user string) ([]string, error) {
	u, err := s.userKey(user).Get(ctx)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, &common.NotFoundError{Kind: "user", Name: user}
		}
		return nil, err
	}
	names := make([]string, 0, len(u.Indexes))
	for name := range u.Indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// MirrorUpstream returns the record-store snapshot behind the mirror
// user/index, for whatever keeps it in sync with the real upstream.
func (s *IndexService) MirrorUpstream(ctx context.Context, user, index string) (*mirror.KeyFSUpstream, error) {
	cfg, err := s.GetIndexConfig(ctx, user, index)
	if err != nil {
		return nil, err
	}
	if cfg.Type != common.IndexTypeMirror {
		return nil, fmt.Errorf("index %s is a %s: %w", models.StageName(user, index), cfg.Type, common.ErrContractViolation)
	}
	return mirror.NewKeyFSUpstream(s.kfs, user, index), nil
}

func (s *IndexService) newStage(user, index string, cfg *models.IndexConfig) *stage.Stage {
	return stage.New(user, index, cfg, stage.Deps{
		KeyFS:    s.kfs,
		Blobs:    s.blobs,
		Renderer: s.renderer,
		Locator:  s,
		Logger:   s.logger,
	})
}

// mirrorStage keeps one handle per mirror so its breaker state outlives a
// single request.
func (s *IndexService) mirrorStage(user, index string) *mirror.Stage {
	name := models.StageName(user, index)

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mirrors[name]; ok {
		return m
	}
	m := mirror.New(user, index, mirror.NewKeyFSUpstream(s.kfs, user, index), s.breaker, s.logger)
	s.mirrors[name] = m
	return m
}

func (s *IndexService) forgetMirror(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mirrors, name)
}
