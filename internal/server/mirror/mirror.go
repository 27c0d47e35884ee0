// Package mirror provides the read-only stage kind that serves a snapshot
// of an upstream package repository.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenk/backoff"
	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/disturl"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	circuit "github.com/rubyist/circuitbreaker"
)

// ErrUpstreamDown is returned while the breaker in front of the upstream
// is open.
var ErrUpstreamDown = errors.New("upstream unavailable")

// Upstream is where a mirror stage gets its data from. ReleaseLinks returns
// common.ErrorNotFound for a project the upstream does not know.
type Upstream interface {
	ProjectNames(ctx context.Context) ([]string, error)
	ReleaseLinks(ctx context.Context, name string) ([]*releasefile.Entry, error)
}

// BreakerOptions tune the circuit breaker in front of the upstream.
type BreakerOptions struct {
	// Threshold is the number of consecutive failures that trips it.
	Threshold       int64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{Threshold: 5, InitialInterval: 30 * time.Second, MaxInterval: 5 * time.Minute}
}

func newBreaker(o BreakerOptions) *circuit.Breaker {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = o.InitialInterval
	expBackoff.MaxInterval = o.MaxInterval
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	return circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(o.Threshold),
	})
}

// Stage is a mirror index. It has no bases and refuses writes.
type Stage struct {
	user     string
	index    string
	upstream Upstream
	breaker  *circuit.Breaker
	logger   logging.Logger
}

func New(user, index string, upstream Upstream, opts BreakerOptions, logger logging.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Stage{
		user:     user,
		index:    index,
		upstream: upstream,
		breaker:  newBreaker(opts),
		logger:   logger.With("stage", models.StageName(user, index)),
	}
}

func (s *Stage) Name() string {
	return models.StageName(s.user, s.index)
}

func (s *Stage) Bases() []string {
	return nil
}

// Tripped reports whether upstream calls are currently refused.
func (s *Stage) Tripped() bool {
	return s.breaker.Tripped()
}

// call runs fn through the breaker. A NotFound answer is a successful call
// as far as the breaker is concerned.
func (s *Stage) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.breaker.Ready() {
		return fmt.Errorf("mirror %s: %w", s.Name(), ErrUpstreamDown)
	}

	var notFound error
	err := s.breaker.Call(func() error {
		err := fn(ctx)
		if errors.Is(err, common.ErrorNotFound) {
			notFound = err
			return nil
		}
		return err
	}, 0)
	if err != nil {
		if errors.Is(err, circuit.ErrBreakerOpen) {
			err = ErrUpstreamDown
		}
		s.logger.Warn(ctx, "upstream call failed", "error", err)
		return fmt.Errorf("mirror %s: %w", s.Name(), err)
	}
	return notFound
}

func (s *Stage) GetProjectNamesPerStage(ctx context.Context) ([]string, error) {
	var names []string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		names, err = s.upstream.ProjectNames(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	names = slices.Clone(names)
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (s *Stage) GetReleaseLinksPerStage(ctx context.Context, name string) ([]*releasefile.Entry, error) {
	var links []*releasefile.Entry
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		links, err = s.upstream.ReleaseLinks(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(links), nil
}

// GetProjectConfigPerStage derives a version mapping from the upstream
// links: each link whose filename carries a version is listed under that
// version's files. Links without a parseable version are left out.
func (s *Stage) GetProjectConfigPerStage(ctx context.Context, name string) (*models.ProjectConfig, error) {
	links, err := s.GetReleaseLinksPerStage(ctx, name)
	if err != nil {
		return nil, err
	}

	pc := models.NewProjectConfig()
	for _, e := range links {
		_, ver, err := disturl.SplitFilename(e.Basename)
		if err != nil {
			s.logger.Debug(ctx, "skipping link without version", "link", e.Basename)
			continue
		}
		vm, ok := (*pc)[ver]
		if !ok {
			vm = &models.VersionMetadata{Name: name, Version: ver, Files: map[string]string{}}
			(*pc)[ver] = vm
		}
		vm.Files[e.Basename] = e.URL
	}
	return pc, nil
}

// A mirror has no bases, so the inherited reads are the local ones.

func (s *Stage) GetProjectConfig(ctx context.Context, name string) (*models.ProjectConfig, error) {
	return s.GetProjectConfigPerStage(ctx, name)
}

func (s *Stage) GetReleaseLinks(ctx context.Context, name string) ([]*releasefile.Entry, error) {
	links, err := s.GetReleaseLinksPerStage(ctx, name)
	if err != nil {
		return nil, err
	}
	disturl.SortByVersion(links, func(e *releasefile.Entry) string { return e.Basename })
	slices.Reverse(links)
	return links, nil
}

func (s *Stage) GetProjectNames(ctx context.Context) ([]string, error) {
	return s.GetProjectNamesPerStage(ctx)
}

func (s *Stage) readOnly(op string) error {
	return fmt.Errorf("%s on mirror %s: %w", op, s.Name(), common.ErrContractViolation)
}

func (s *Stage) RegisterMetadata(context.Context, *models.VersionMetadata) error {
	return s.readOnly("register metadata")
}

func (s *Stage) ProjectAdd(context.Context, string) error {
	return s.readOnly("add project")
}

func (s *Stage) ProjectDelete(context.Context, string) error {
	return s.readOnly("delete project")
}

func (s *Stage) ProjectVersionDelete(context.Context, string, string) (bool, error) {
	return false, s.readOnly("delete version")
}

func (s *Stage) StoreReleaseFile(context.Context, string, []byte) (*releasefile.Entry, error) {
	return nil, s.readOnly("store release file")
}

func (s *Stage) StoreDoczip(context.Context, string, []byte) (string, error) {
	return "", s.readOnly("store documentation")
}
