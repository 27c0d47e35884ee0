// Package stage implements a private index: per-project version metadata,
// release files, documentation trees, and reads inherited from bases.
//
// Every read exists in a PerStage form touching only the stage's own
// records and in an inherited form that walks the bases and merges their
// results (see merge.go).
package stage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/disturl"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
)

// Reader is the read surface shared by private and mirror stages. The
// PerStage methods are what merges are built from; they return
// common.ErrorNotFound for an absent project.
type Reader interface {
	Name() string
	Bases() []string

	GetProjectConfigPerStage(ctx context.Context, name string) (*models.ProjectConfig, error)
	GetReleaseLinksPerStage(ctx context.Context, name string) ([]*releasefile.Entry, error)
	GetProjectNamesPerStage(ctx context.Context) ([]string, error)

	GetProjectConfig(ctx context.Context, name string) (*models.ProjectConfig, error)
	GetReleaseLinks(ctx context.Context, name string) ([]*releasefile.Entry, error)
	GetProjectNames(ctx context.Context) ([]string, error)
}

// Locator resolves a "user/index" base reference. It returns
// common.ErrorNotFound for an unknown index.
type Locator interface {
	GetStageByName(ctx context.Context, name string) (Reader, error)
}

// Renderer turns a raw long description into a display document.
type Renderer interface {
	Render(raw string) ([]byte, error)
}

// Deps are the collaborators shared by all stages of a server.
type Deps struct {
	KeyFS    *keyfs.KeyFS
	Blobs    releasefile.Store
	Renderer Renderer
	Locator  Locator
	Logger   logging.Logger
}

// Stage is a writable index owned by one user.
type Stage struct {
	user   string
	index  string
	config *models.IndexConfig

	kfs      *keyfs.KeyFS
	blobs    releasefile.Store
	renderer Renderer
	locator  Locator
	logger   logging.Logger
}

// New returns a handle on user/index. cfg is copied.
func New(user, index string, cfg *models.IndexConfig, d Deps) *Stage {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Stage{
		user:     user,
		index:    index,
		config:   cfg.Clone(),
		kfs:      d.KeyFS,
		blobs:    d.Blobs,
		renderer: d.Renderer,
		locator:  d.Locator,
		logger:   logger.With("stage", models.StageName(user, index)),
	}
}

func (s *Stage) Name() string {
	return models.StageName(s.user, s.index)
}

func (s *Stage) User() string  { return s.user }
func (s *Stage) Index() string { return s.index }

func (s *Stage) Bases() []string {
	return slices.Clone(s.config.Bases)
}

// Config returns a copy of the index config the handle was built from.
func (s *Stage) Config() *models.IndexConfig {
	return s.config.Clone()
}

func (s *Stage) CanUpload(username string) bool {
	return slices.Contains(s.config.ACLUpload, username)
}

func (s *Stage) projectKey(name string) keyfs.Key[models.ProjectConfig] {
	return keyfs.PROJCONFIG.Key(s.kfs, s.user, s.index, name)
}

func checkProject(name string) error {
	if msg := models.CheckName("project", name); msg != "" {
		return common.NewValidationError([]string{msg})
	}
	return nil
}

// RegisterMetadata merges md into the stored metadata of md.Version. Fields
// md leaves empty keep their stored value. A non-empty description is
// rendered and stored afterwards; failing to do so is logged and does not
// undo the metadata update.
func (s *Stage) RegisterMetadata(ctx context.Context, md *models.VersionMetadata) error {
	var msgs []string
	if md.Name == "" {
		msgs = append(msgs, "missing field: name")
	} else if msg := models.CheckName("project", md.Name); msg != "" {
		msgs = append(msgs, msg)
	}
	if md.Version == "" {
		msgs = append(msgs, "missing field: version")
	} else if msg := models.CheckVersion(md.Version); msg != "" {
		msgs = append(msgs, msg)
	}
	if err := common.NewValidationError(msgs); err != nil {
		return err
	}

	err := s.projectKey(md.Name).LockedUpdate(ctx, func(pc *models.ProjectConfig, _ bool) error {
		vm, ok := (*pc)[md.Version]
		if !ok {
			vm = &models.VersionMetadata{}
			(*pc)[md.Version] = vm
		}
		vm.Merge(md)
		vm.Shadowing = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("register %s-%s: %w", md.Name, md.Version, err)
	}
	s.logger.Info(ctx, "registered metadata", "project", md.Name, "version", md.Version)

	if md.Description != "" {
		s.storeDescription(ctx, md.Name, md.Version, md.Description)
	}
	return nil
}

func (s *Stage) storeDescription(ctx context.Context, name, version, raw string) {
	if s.renderer == nil {
		return
	}
	html, err := s.renderer.Render(raw)
	if err != nil {
		s.logger.Warn(ctx, "description not rendered", "project", name, "version", version, "error", err)
		return
	}
	key := keyfs.RELDESCRIPTION.Key(s.kfs, s.user, s.index, name, version)
	if err := key.Set(ctx, &html); err != nil {
		s.logger.Error(ctx, "description not stored", "project", name, "version", version, "error", err)
	}
}

// ProjectAdd makes sure a record exists for name.
func (s *Stage) ProjectAdd(ctx context.Context, name string) error {
	if err := checkProject(name); err != nil {
		return err
	}
	return s.projectKey(name).LockedUpdate(ctx, func(_ *models.ProjectConfig, exists bool) error {
		if exists {
			return keyfs.ErrUnchanged
		}
		return nil
	})
}

func (s *Stage) ProjectDelete(ctx context.Context, name string) error {
	if err := s.projectKey(name).Delete(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "deleted project", "project", name)
	return nil
}

// ProjectVersionDelete removes one version and reports whether it existed.
// When no version is left the project record is deleted in a second step,
// outside the lock: a RegisterMetadata landing in between is lost.
func (s *Stage) ProjectVersionDelete(ctx context.Context, name, version string) (bool, error) {
	key := s.projectKey(name)

	var existed, empty bool
	err := key.LockedUpdate(ctx, func(pc *models.ProjectConfig, _ bool) error {
		if _, ok := (*pc)[version]; !ok {
			return keyfs.ErrUnchanged
		}
		delete(*pc, version)
		existed = true
		empty = len(*pc) == 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	s.logger.Info(ctx, "deleted version", "project", name, "version", version)

	if empty {
		s.logger.Info(ctx, "no version left, deleting project", "project", name)
		if err := key.Delete(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Stage) ProjectExists(ctx context.Context, name string) (bool, error) {
	return s.projectKey(name).Exists(ctx)
}

// GetDescription returns the rendered description of one version.
func (s *Stage) GetDescription(ctx context.Context, name, version string) ([]byte, error) {
	html, err := keyfs.RELDESCRIPTION.Key(s.kfs, s.user, s.index, name, version).Get(ctx)
	if err != nil {
		return nil, err
	}
	return *html, nil
}

func (s *Stage) GetDescriptionVersions(ctx context.Context, name string) ([]string, error) {
	return keyfs.RELDESCRIPTION.ListNames(ctx, s.kfs, "version",
		keyfs.Params{"user": s.user, "index": s.index, "name": name})
}

// GetMetadata looks up one version on this stage only; bases are not
// consulted.
func (s *Stage) GetMetadata(ctx context.Context, name, version string) (*models.VersionMetadata, error) {
	pc, err := s.GetProjectConfigPerStage(ctx, name)
	if err != nil {
		return nil, err
	}
	vm, ok := (*pc)[version]
	if !ok {
		return nil, &common.NotFoundError{Kind: "version", Name: name + "-" + version}
	}
	return vm, nil
}

func (s *Stage) GetProjectConfigPerStage(ctx context.Context, name string) (*models.ProjectConfig, error) {
	return s.projectKey(name).Get(ctx)
}

// GetReleaseLinksPerStage lists the entries of every stored file of name.
func (s *Stage) GetReleaseLinksPerStage(ctx context.Context, name string) ([]*releasefile.Entry, error) {
	pc, err := s.GetProjectConfigPerStage(ctx, name)
	if err != nil {
		return nil, err
	}
	var links []*releasefile.Entry
	for _, ver := range pc.Versions() {
		files := (*pc)[ver].Files
		for _, filename := range sortedKeys(files) {
			links = append(links, s.blobs.GetEntry(files[filename]))
		}
	}
	return links, nil
}

func (s *Stage) GetProjectNamesPerStage(ctx context.Context) ([]string, error) {
	return keyfs.PROJCONFIG.ListNames(ctx, s.kfs, "name", keyfs.Params{"user": s.user, "index": s.index})
}

// StoreReleaseFile stores content as filename and records it under the
// version parsed from the filename. The project lock is held across the
// existence check and the blob write, so two uploads of the same file to a
// non-volatile stage cannot both succeed.
func (s *Stage) StoreReleaseFile(ctx context.Context, filename string, content []byte) (*releasefile.Entry, error) {
	name, version, err := disturl.SplitFilename(filename)
	if err != nil {
		return nil, common.NewValidationError([]string{err.Error()})
	}
	if err := checkProject(name); err != nil {
		return nil, err
	}

	var entry *releasefile.Entry
	err = s.projectKey(name).LockedUpdate(ctx, func(pc *models.ProjectConfig, _ bool) error {
		vm, ok := (*pc)[version]
		if !ok {
			vm = &models.VersionMetadata{Name: name, Version: version}
			(*pc)[version] = vm
		}
		if vm.Files == nil {
			vm.Files = make(map[string]string)
		}
		if _, ok := vm.Files[filename]; ok && !s.config.Volatile {
			return fmt.Errorf("%s already exists on non-volatile %s: %w", filename, s.Name(), common.ErrConflict)
		}

		e, err := s.blobs.Store(ctx, s.user, s.index, filename, content)
		if err != nil {
			return fmt.Errorf("store %s: %w", filename, err)
		}
		vm.Files[filename] = e.Relpath
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "stored release file", "relpath", entry.Relpath)
	return entry, nil
}

// GetProjectConfig is the version mapping of name merged over the stage and
// all of its bases.
func (s *Stage) GetProjectConfig(ctx context.Context, name string) (*models.ProjectConfig, error) {
	results, err := gather(ctx, s, func(ctx context.Context, r Reader) (*models.ProjectConfig, error) {
		return r.GetProjectConfigPerStage(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return MergeProjectConfigs(results)
}

// GetReleaseLinks returns the release files of name visible from this
// stage, newest version first.
func (s *Stage) GetReleaseLinks(ctx context.Context, name string) ([]*releasefile.Entry, error) {
	results, err := gather(ctx, s, func(ctx context.Context, r Reader) ([]*releasefile.Entry, error) {
		return r.GetReleaseLinksPerStage(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return MergeReleaseLinks(results)
}

func (s *Stage) GetProjectNames(ctx context.Context) ([]string, error) {
	results, err := gather(ctx, s, func(ctx context.Context, r Reader) ([]string, error) {
		return r.GetProjectNamesPerStage(ctx)
	})
	if err != nil {
		return nil, err
	}
	return MergeProjectNames(results)
}

// walk lists the stages a merged read consults: depth-first over bases in
// declared order, self first. Each stage appears once, which also ends
// cycles. Bases that no longer exist are skipped.
func (s *Stage) walk(ctx context.Context) ([]Reader, error) {
	var chain []Reader
	visited := make(map[string]bool)

	var visit func(r Reader) error
	visit = func(r Reader) error {
		visited[r.Name()] = true
		chain = append(chain, r)
		for _, base := range r.Bases() {
			if visited[base] {
				continue
			}
			if s.locator == nil {
				return fmt.Errorf("resolve base %s of %s: no locator", base, r.Name())
			}
			br, err := s.locator.GetStageByName(ctx, base)
			if errors.Is(err, common.ErrorNotFound) {
				s.logger.Warn(ctx, "skipping missing base", "base", base, "of", r.Name())
				continue
			}
			if err != nil {
				return fmt.Errorf("resolve base %s: %w", base, err)
			}
			if visited[br.Name()] {
				continue
			}
			if err := visit(br); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(s); err != nil {
		return nil, err
	}
	return chain, nil
}

// Writer is the write surface of a stage. Mirror stages implement it only
// to refuse every call.
type Writer interface {
	RegisterMetadata(ctx context.Context, md *models.VersionMetadata) error
	ProjectAdd(ctx context.Context, name string) error
	ProjectDelete(ctx context.Context, name string) error
	ProjectVersionDelete(ctx context.Context, name, version string) (bool, error)
	StoreReleaseFile(ctx context.Context, filename string, content []byte) (*releasefile.Entry, error)
	StoreDoczip(ctx context.Context, name string, content []byte) (string, error)
}

var (
	_ Reader = (*Stage)(nil)
	_ Writer = (*Stage)(nil)
)
