package models

import (
	"fmt"
	"regexp"
)

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	versionRe = regexp.MustCompile(`^[A-Za-z0-9._+!-]+$`)
)

// CheckName reports why name cannot be used as a user, index or project
// name, or "" when it can. Names become path segments of record keys.
func CheckName(kind, name string) string {
	switch {
	case name == "":
		return fmt.Sprintf("missing %s name", kind)
	case name == "." || name == "..":
		return fmt.Sprintf("invalid %s name %q", kind, name)
	case !nameRe.MatchString(name):
		return fmt.Sprintf("invalid %s name %q: only letters, digits, '.', '_' and '-' are allowed", kind, name)
	}
	return ""
}

// CheckVersion is CheckName for version strings, which may also carry
// local ("+") and epoch ("!") markers.
func CheckVersion(version string) string {
	switch {
	case version == "":
		return "missing version"
	case version == "." || version == "..":
		return fmt.Sprintf("invalid version %q", version)
	case !versionRe.MatchString(version):
		return fmt.Sprintf("invalid version %q", version)
	}
	return ""
}
