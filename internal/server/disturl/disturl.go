// Package disturl parses distribution filenames and orders them by the
// version embedded in the name.
package disturl

import (
	"fmt"
	"slices"
	"strings"
)

// archiveExts are the recognised distribution suffixes, longest first.
var archiveExts = []string{".tar.bz2", ".tar.gz", ".tgz", ".zip", ".whl", ".egg"}

// SplitExt splits filename into its base and archive extension. The
// extension is empty when none of the known suffixes match.
func SplitExt(filename string) (base, ext string) {
	lower := strings.ToLower(filename)
	for _, e := range archiveExts {
		if strings.HasSuffix(lower, e) {
			return filename[:len(filename)-len(e)], filename[len(filename)-len(e):]
		}
	}
	return filename, ""
}

// SplitFilename returns the project name and version of a distribution
// file such as "pkg-1.0.tar.gz", "pkg-1.0-py3-none-any.whl" or
// "pkg-1.0-py2.7.egg".
func SplitFilename(filename string) (name, ver string, err error) {
	if i := strings.LastIndexAny(filename, "/\\"); i >= 0 {
		filename = filename[i+1:]
	}
	base, ext := SplitExt(filename)
	if ext == "" {
		return "", "", fmt.Errorf("unsupported distribution file %q", filename)
	}

	switch strings.ToLower(ext) {
	case ".whl", ".egg":
		// Wheels and eggs never have dashes inside name or version.
		parts := strings.Split(base, "-")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("malformed distribution file %q", filename)
		}
		return parts[0], parts[1], nil
	}

	// sdist: the version starts at the first dash followed by a digit.
	for i := 0; i < len(base)-1; i++ {
		if base[i] == '-' && base[i+1] >= '0' && base[i+1] <= '9' {
			if i == 0 {
				break
			}
			return base[:i], base[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no version in distribution file %q", filename)
}

// parsedVersion is nil when basename carries no PEP 440 version.
func parsedVersion(basename string) *Version {
	_, ver, err := SplitFilename(basename)
	if err != nil {
		return nil
	}
	v, err := ParseVersion(ver)
	if err != nil {
		return nil
	}
	return v
}

// Compare orders two basenames by embedded version. Names without a
// parseable version sort before those with one and compare lexically
// among themselves; equal versions fall back to the basename.
func Compare(a, b string) int {
	va, vb := parsedVersion(a), parsedVersion(b)
	switch {
	case va != nil && vb != nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
	case va != nil:
		return 1
	case vb != nil:
		return -1
	}
	return strings.Compare(a, b)
}

// SortByVersion sorts items in ascending version order of basename(item).
// The sort is stable.
func SortByVersion[T any](items []T, basename func(T) string) {
	slices.SortStableFunc(items, func(a, b T) int {
		return Compare(basename(a), basename(b))
	})
}
