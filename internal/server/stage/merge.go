package stage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/server/disturl"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"golang.org/x/sync/errgroup"
)

// Result is what one stage contributed to a merged read. NotFound marks a
// stage on which the project is absent; it contributes nothing.
type Result[T any] struct {
	Stage    string
	Value    T
	NotFound bool
}

// gather runs read on every stage of the walk in parallel. Results keep
// walk order. Any error other than common.ErrorNotFound fails the read.
func gather[T any](ctx context.Context, s *Stage, read func(context.Context, Reader) (T, error)) ([]Result[T], error) {
	chain, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result[T], len(chain))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range chain {
		g.Go(func() error {
			v, err := read(gctx, r)
			switch {
			case errors.Is(err, common.ErrorNotFound):
				results[i] = Result[T]{Stage: r.Name(), NotFound: true}
			case err != nil:
				return fmt.Errorf("read %s: %w", r.Name(), err)
			default:
				results[i] = Result[T]{Stage: r.Name(), Value: v}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// mergeBy folds ordered per-stage item lists. The first item seen for an
// identity wins; later items with the same identity are handed to
// onShadowed together with the winner, or dropped when onShadowed is nil.
// If every result is NotFound the merge is common.ErrorNotFound.
func mergeBy[E any](results []Result[[]E], identity func(E) string, onShadowed func(winner, shadowed E)) ([]E, error) {
	found := false
	var out []E
	seen := make(map[string]E)
	for _, res := range results {
		if res.NotFound {
			continue
		}
		found = true
		for _, item := range res.Value {
			id := identity(item)
			if winner, ok := seen[id]; ok {
				if onShadowed != nil {
					onShadowed(winner, item)
				}
				continue
			}
			seen[id] = item
			out = append(out, item)
		}
	}
	if !found && len(results) > 0 {
		return nil, common.ErrorNotFound
	}
	return out, nil
}

type versionEntry struct {
	version string
	meta    *models.VersionMetadata
}

// MergeProjectConfigs keeps one winning definition per version, from the
// first stage defining it, and appends the others to its Shadowing list in
// stage order. Inputs are not modified.
func MergeProjectConfigs(results []Result[*models.ProjectConfig]) (*models.ProjectConfig, error) {
	lists := make([]Result[[]versionEntry], len(results))
	for i, res := range results {
		lists[i] = Result[[]versionEntry]{Stage: res.Stage, NotFound: res.NotFound}
		if res.NotFound || res.Value == nil {
			continue
		}
		pc := *res.Value
		for _, ver := range pc.Versions() {
			meta := pc[ver].Clone()
			if meta == nil {
				meta = &models.VersionMetadata{}
			}
			meta.Shadowing = nil
			lists[i].Value = append(lists[i].Value, versionEntry{version: ver, meta: meta})
		}
	}

	entries, err := mergeBy(lists,
		func(e versionEntry) string { return e.version },
		func(winner, shadowed versionEntry) {
			winner.meta.Shadowing = append(winner.meta.Shadowing, shadowed.meta)
		})
	if err != nil {
		return nil, err
	}

	merged := make(models.ProjectConfig, len(entries))
	for _, e := range entries {
		merged[e.version] = e.meta
	}
	return &merged, nil
}

// MergeReleaseLinks drops entries whose identity (eggfragment, else
// basename) an earlier stage already provided, then orders the rest newest
// version first.
func MergeReleaseLinks(results []Result[[]*releasefile.Entry]) ([]*releasefile.Entry, error) {
	links, err := mergeBy(results, (*releasefile.Entry).IdentityKey, nil)
	if err != nil {
		return nil, err
	}
	disturl.SortByVersion(links, func(e *releasefile.Entry) string { return e.Basename })
	slices.Reverse(links)
	return links, nil
}

// MergeProjectNames is the sorted union of all names.
func MergeProjectNames(results []Result[[]string]) ([]string, error) {
	names, err := mergeBy(results, func(n string) string { return n }, nil)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
