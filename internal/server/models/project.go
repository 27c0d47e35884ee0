package models

import (
	"maps"
	"slices"
)

// MetadataKeys are the package metadata fields a stage stores per version.
var MetadataKeys = []string{
	"name", "version", "summary", "home_page", "author", "author_email",
	"license", "description", "keywords", "platform", "classifiers", "download_url",
}

// VersionMetadata is the stored record for one version of a project.
//
// Files maps an uploaded filename to its blob-store relative path.
// Shadowing is only filled in by the merged read path and holds the
// definitions of lower-precedence stages for the same version; write paths
// never persist it. Extra carries fields outside the enumerated set.
type VersionMetadata struct {
	Name        string   `json:"name,omitempty"`
	Version     string   `json:"version,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	HomePage    string   `json:"home_page,omitempty"`
	Author      string   `json:"author,omitempty"`
	AuthorEmail string   `json:"author_email,omitempty"`
	License     string   `json:"license,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    string   `json:"keywords,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Classifiers []string `json:"classifiers,omitempty"`
	DownloadURL string   `json:"download_url,omitempty"`

	Files     map[string]string  `json:"+files,omitempty"`
	Shadowing []*VersionMetadata `json:"+shadowing,omitempty"`

	Extra map[string]any `json:"-"`
}

type versionMetadataJSON VersionMetadata

var versionMetadataKeys = append(slices.Clone(MetadataKeys), "+files", "+shadowing")

func (m VersionMetadata) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(versionMetadataJSON(m), m.Extra)
}

func (m *VersionMetadata) UnmarshalJSON(data []byte) error {
	var known versionMetadataJSON
	extra, err := splitExtra(data, &known, versionMetadataKeys)
	if err != nil {
		return err
	}
	*m = VersionMetadata(known)
	m.Extra = extra
	return nil
}

// Merge copies every non-empty field of other into m. Fields other leaves
// empty keep their current value.
func (m *VersionMetadata) Merge(other *VersionMetadata) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&m.Name, other.Name)
	set(&m.Version, other.Version)
	set(&m.Summary, other.Summary)
	set(&m.HomePage, other.HomePage)
	set(&m.Author, other.Author)
	set(&m.AuthorEmail, other.AuthorEmail)
	set(&m.License, other.License)
	set(&m.Description, other.Description)
	set(&m.Keywords, other.Keywords)
	set(&m.Platform, other.Platform)
	set(&m.DownloadURL, other.DownloadURL)
	if other.Classifiers != nil {
		m.Classifiers = slices.Clone(other.Classifiers)
	}
	if len(other.Files) > 0 {
		if m.Files == nil {
			m.Files = make(map[string]string, len(other.Files))
		}
		maps.Copy(m.Files, other.Files)
	}
	if len(other.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]any, len(other.Extra))
		}
		maps.Copy(m.Extra, other.Extra)
	}
}

// Clone returns a deep copy.
func (m *VersionMetadata) Clone() *VersionMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Classifiers = slices.Clone(m.Classifiers)
	c.Files = maps.Clone(m.Files)
	c.Extra = cloneExtra(m.Extra)
	if m.Shadowing != nil {
		c.Shadowing = make([]*VersionMetadata, len(m.Shadowing))
		for i, s := range m.Shadowing {
			c.Shadowing[i] = s.Clone()
		}
	}
	return &c
}

// ProjectConfig maps a version string to its metadata.
type ProjectConfig map[string]*VersionMetadata

// NewProjectConfig returns an empty, non-nil mapping.
func NewProjectConfig() *ProjectConfig {
	pc := ProjectConfig{}
	return &pc
}

// Versions returns the version keys in lexical order.
func (pc ProjectConfig) Versions() []string {
	return slices.Sorted(maps.Keys(pc))
}
