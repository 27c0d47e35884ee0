// Package releasefile stores uploaded release artifacts and describes them
// as entries that stages link to.
package releasefile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Entry is a handle on one release file, either stored locally or linked
// from an upstream mirror.
type Entry struct {
	Basename string `json:"basename"`
	// Eggfragment is the "#egg=" fragment of a link, if any. It replaces
	// Basename as the identity of the entry.
	Eggfragment string `json:"eggfragment,omitempty"`
	Relpath     string `json:"relpath,omitempty"`
	// SHA256 is only known for entries returned by Store.Store.
	SHA256 string `json:"sha256,omitempty"`
	URL    string `json:"url,omitempty"`
}

// IdentityKey is what merged link listings deduplicate on.
func (e *Entry) IdentityKey() string {
	if e.Eggfragment != "" {
		return e.Eggfragment
	}
	return e.Basename
}

// Store keeps release files of all indexes.
type Store interface {
	Store(ctx context.Context, user, index, filename string, content []byte) (*Entry, error)
	GetEntry(relpath string) *Entry
	// DeleteIndex removes every file stored for user/index and returns how
	// many there were.
	DeleteIndex(ctx context.Context, user, index string) (int, error)
}

// hashDirLen is how many hex digits of the content digest name the
// per-file directory.
const hashDirLen = 16

// Relpath returns where a file with the given digest lives:
// user/index/+f/<digest[:16]>/<filename>.
func Relpath(user, index, digest, filename string) string {
	return path.Join(user, index, "+f", digest[:hashDirLen], filename)
}

// IndexPrefix is the relpath prefix shared by all files of user/index.
func IndexPrefix(user, index string) string {
	return path.Join(user, index, "+f") + "/"
}

func digestOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func validateFilename(filename string) error {
	if filename == "" || filename == "." || filename == ".." || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("invalid release filename %q", filename)
	}
	return nil
}

// entryForRelpath builds the entry of a stored file from its relpath.
func entryForRelpath(relpath string) *Entry {
	return &Entry{Basename: path.Base(relpath), Relpath: relpath}
}

// EntryFromURL describes an upstream link such as
// "https://host/packages/pkg-1.0.tar.gz#egg=pkg-dev".
func EntryFromURL(link string) (*Entry, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link %q: %w", link, err)
	}
	e := &Entry{Basename: path.Base(u.Path), URL: link}
	if e.Basename == "." || e.Basename == "/" {
		return nil, fmt.Errorf("link %q has no file name", link)
	}
	if frag, err := url.ParseQuery(u.Fragment); err == nil {
		e.Eggfragment = frag.Get("egg")
		e.SHA256 = frag.Get("sha256")
	}
	return e, nil
}
