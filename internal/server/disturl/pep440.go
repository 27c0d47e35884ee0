package disturl

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// pep440Re accepts the PEP 440 public version forms plus a local label.
// Groups: 1 epoch, 2 release, 3 pre phase, 4 pre number, 5 implicit post
// number, 6 post marker, 7 post number, 8 dev marker, 9 dev number,
// 10 local label.
var pep440Re = regexp.MustCompile(`^v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(alpha|beta|preview|pre|rc|a|b|c)[-_.]?(\d+)?)?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d+)?)?` +
	`(?:[-_.]?(dev)[-_.]?(\d+)?)?` +
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

var preRank = map[string]int64{
	"a": 0, "alpha": 0,
	"b": 1, "beta": 1,
	"c": 2, "rc": 2, "pre": 2, "preview": 2,
}

// Bounds for absent parts, so that 1.0.dev1 < 1.0a1 < 1.0 < 1.0.post1.
const (
	lowest  = math.MinInt64
	highest = math.MaxInt64
)

// Version is a release version ordered the way pip orders them. The
// release segments are compared by go-version, which pads with zeros
// (1.0 == 1.0.0).
type Version struct {
	epoch    int64
	release  *version.Version
	preRank  int64
	preNum   int64
	post     int64
	dev      int64
	local    []string
	original string
}

func (v *Version) String() string {
	return v.original
}

func parseNum(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ParseVersion parses a PEP 440 version such as "1!2.0rc1.post2.dev3+ubuntu.1".
func ParseVersion(s string) (*Version, error) {
	m := pep440Re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return nil, fmt.Errorf("invalid version %q", s)
	}

	release, err := version.NewVersion(m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	v := &Version{release: release, original: s, preRank: highest, preNum: highest, post: lowest, dev: highest}

	type field struct {
		text string
		dst  *int64
	}
	fields := []field{{m[1], &v.epoch}}
	if m[3] != "" {
		v.preRank = preRank[m[3]]
		fields = append(fields, field{m[4], &v.preNum})
	}
	switch {
	case m[5] != "":
		fields = append(fields, field{m[5], &v.post})
	case m[6] != "":
		fields = append(fields, field{m[7], &v.post})
	}
	if m[8] != "" {
		fields = append(fields, field{m[9], &v.dev})
	}
	for _, f := range fields {
		if *f.dst, err = parseNum(f.text); err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
	}

	// A dev release of a final version sorts before its pre-releases.
	if m[3] == "" && m[5] == "" && m[6] == "" && m[8] != "" {
		v.preRank, v.preNum = lowest, lowest
	}
	if m[10] != "" {
		v.local = strings.FieldsFunc(m[10], func(r rune) bool { return r == '.' || r == '-' || r == '_' })
	}
	return v, nil
}

// Compare returns -1, 0 or 1.
func (v *Version) Compare(o *Version) int {
	if c := cmp.Compare(v.epoch, o.epoch); c != 0 {
		return c
	}
	if c := v.release.Compare(o.release); c != 0 {
		return c
	}
	for _, c := range []int{
		cmp.Compare(v.preRank, o.preRank),
		cmp.Compare(v.preNum, o.preNum),
		cmp.Compare(v.post, o.post),
		cmp.Compare(v.dev, o.dev),
	} {
		if c != 0 {
			return c
		}
	}
	return slices.CompareFunc(v.local, o.local, compareLocal)
}

// compareLocal orders local label segments: numbers above words, numbers
// numerically, words lexically.
func compareLocal(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}
