package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"github.com/dmitrijs2005/pkgindex/internal/server/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	names []string
	links map[string][]*releasefile.Entry
	err   error
	calls int
}

func (f *fakeUpstream) ProjectNames(context.Context) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.names, nil
}

func (f *fakeUpstream) ReleaseLinks(_ context.Context, name string) ([]*releasefile.Entry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	links, ok := f.links[name]
	if !ok {
		return nil, &common.NotFoundError{Kind: "project", Name: name}
	}
	return links, nil
}

var (
	_ stage.Reader = (*Stage)(nil)
	_ stage.Writer = (*Stage)(nil)
)

func testOptions() BreakerOptions {
	return BreakerOptions{Threshold: 2, InitialInterval: time.Minute, MaxInterval: time.Hour}
}

func newTestMirror(up Upstream) *Stage {
	return New("root", "pypi", up, testOptions(), logging.NewNopLogger())
}

func TestMirror_Reads(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{
		names: []string{"zeta", "alpha", "alpha"},
		links: map[string][]*releasefile.Entry{
			"pkg": {
				{Basename: "pkg-1.0.tar.gz", URL: "https://up/pkg-1.0.tar.gz"},
				{Basename: "pkg-1.10.tar.gz", URL: "https://up/pkg-1.10.tar.gz"},
				{Basename: "pkg-1.0-py3-none-any.whl", URL: "https://up/pkg-1.0-py3-none-any.whl"},
				{Basename: "README", URL: "https://up/README"},
			},
		},
	}
	m := newTestMirror(up)

	assert.Equal(t, "root/pypi", m.Name())
	assert.Empty(t, m.Bases())

	names, err := m.GetProjectNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	pc, err := m.GetProjectConfig(ctx, "pkg")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "1.10"}, pc.Versions())
	assert.Equal(t, map[string]string{
		"pkg-1.0.tar.gz":           "https://up/pkg-1.0.tar.gz",
		"pkg-1.0-py3-none-any.whl": "https://up/pkg-1.0-py3-none-any.whl",
	}, (*pc)["1.0"].Files)

	links, err := m.GetReleaseLinks(ctx, "pkg")
	require.NoError(t, err)
	assert.Equal(t, "pkg-1.10.tar.gz", links[0].Basename)

	_, err = m.GetProjectConfig(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMirror_WritesAreContractViolations(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(&fakeUpstream{})

	errs := []error{
		m.RegisterMetadata(ctx, nil),
		m.ProjectAdd(ctx, "pkg"),
		m.ProjectDelete(ctx, "pkg"),
	}
	_, err := m.ProjectVersionDelete(ctx, "pkg", "1.0")
	errs = append(errs, err)
	_, err = m.StoreReleaseFile(ctx, "pkg-1.0.tar.gz", []byte("x"))
	errs = append(errs, err)
	_, err = m.StoreDoczip(ctx, "pkg", []byte("x"))
	errs = append(errs, err)

	for _, err := range errs {
		assert.ErrorIs(t, err, common.ErrContractViolation)
	}
}

func TestMirror_BreakerTripsOnFaults(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{err: errors.New("connection refused")}
	m := newTestMirror(up)

	for i := 0; i < 2; i++ {
		_, err := m.GetProjectNames(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrorNotFound)
	}
	assert.True(t, m.Tripped())

	_, err := m.GetReleaseLinks(ctx, "pkg")
	assert.ErrorIs(t, err, ErrUpstreamDown)
	assert.Equal(t, 2, up.calls, "an open breaker does not reach the upstream")
}

func TestMirror_NotFoundDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(&fakeUpstream{links: map[string][]*releasefile.Entry{}})

	for i := 0; i < 5; i++ {
		_, err := m.GetReleaseLinks(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	}
	assert.False(t, m.Tripped())
}
