package stage

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// memberPath returns the slash path of a zip member relative to the
// extraction root, or ok=false when the member would land outside it.
func memberPath(name string) (rel string, ok bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || path.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", false
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// checkMembers collects every member that escapes the extraction root.
func checkMembers(files []*zip.File) error {
	var msgs []string
	for _, f := range files {
		if _, ok := memberPath(f.Name); !ok {
			msgs = append(msgs, "invalid path name: "+f.Name)
		}
	}
	return common.NewValidationError(msgs)
}

// StoreDoczip publishes the zip archive content as the documentation tree
// of project name and returns the tree's path on the data tree.
//
// Every member is checked before anything is written. The archive is then
// extracted into a scratch directory and swapped in: the current tree is
// renamed aside, the new one renamed into place, and the old one removed.
// If moving the new tree in fails, the old one is moved back.
func (s *Stage) StoreDoczip(ctx context.Context, name string, content []byte) (string, error) {
	if err := checkProject(name); err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", common.NewValidationError([]string{"empty documentation archive"})
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	// insecure names are reported by checkMembers, together with all others
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return "", common.NewValidationError([]string{"invalid zip archive: " + err.Error()})
	}
	if err := checkMembers(zr.File); err != nil {
		return "", err
	}

	fs := s.kfs.FS()
	staged, err := s.kfs.TempDir(name + "-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	nfiles, err := extract(ctx, fs, staged, zr.File)
	if err != nil {
		if rmErr := fs.RemoveAll(staged); rmErr != nil {
			err = multierror.Append(err, rmErr)
		}
		return "", err
	}

	target := keyfs.STAGEDOCS.Path(s.user, s.index, name)
	sum := sha256.Sum256(content)
	info := &models.DocInfo{SHA256: hex.EncodeToString(sum[:]), Files: nfiles, PublishedAt: time.Now().UTC()}

	err = keyfs.DOCINFO.Key(s.kfs, s.user, s.index, name).LockedUpdate(ctx, func(cur *models.DocInfo, _ bool) error {
		old, err := swapTree(fs, staged, target)
		if err != nil {
			return err
		}
		if old != "" {
			if err := fs.RemoveAll(old); err != nil {
				s.logger.Warn(ctx, "old documentation not removed", "path", old, "error", err)
			}
		}
		*cur = *info
		return nil
	})
	if err != nil {
		if rmErr := fs.RemoveAll(staged); rmErr != nil {
			err = multierror.Append(err, rmErr)
		}
		return "", err
	}

	s.logger.Info(ctx, "published documentation", "project", name, "files", nfiles)
	return target, nil
}

// extract writes members below root and returns how many files it wrote.
func extract(ctx context.Context, fs afero.Fs, root string, files []*zip.File) (int, error) {
	n := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rel, _ := memberPath(f.Name)
		dst := filepath.Join(root, filepath.FromSlash(rel))

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := fs.MkdirAll(dst, 0o770); err != nil {
				return n, err
			}
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(dst), 0o770); err != nil {
			return n, err
		}
		if err := extractFile(fs, dst, f); err != nil {
			return n, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}

func extractFile(fs afero.Fs, dst string, f *zip.File) (err error) {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o660)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, rc)
	return err
}

// swapTree moves staged to target. An existing target is renamed aside
// first and its new path returned for the caller to remove; if moving
// staged in fails, the old tree is put back.
func swapTree(fs afero.Fs, staged, target string) (old string, err error) {
	exists, err := afero.DirExists(fs, target)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := fs.MkdirAll(filepath.Dir(target), 0o770); err != nil {
			return "", err
		}
		return "", fs.Rename(staged, target)
	}

	old = filepath.Join(filepath.Dir(target), "old-"+filepath.Base(target))
	// leftover from an interrupted swap
	if err := fs.RemoveAll(old); err != nil {
		return "", err
	}
	if err := fs.Rename(target, old); err != nil {
		return "", err
	}
	if err := fs.Rename(staged, target); err != nil {
		var result error = err
		if rbErr := fs.Rename(old, target); rbErr != nil {
			result = multierror.Append(result, rbErr)
		}
		return "", result
	}
	return old, nil
}

// DocFiles lists the files of the published documentation tree of name
// that match a doublestar pattern such as "**/*.html".
func (s *Stage) DocFiles(ctx context.Context, name, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, common.NewValidationError([]string{"invalid pattern: " + pattern})
	}
	target := keyfs.STAGEDOCS.Path(s.user, s.index, name)
	exists, err := afero.DirExists(s.kfs.FS(), target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &common.NotFoundError{Kind: "documentation", Name: name}
	}

	tree := afero.NewIOFS(afero.NewBasePathFs(s.kfs.FS(), target))
	files, err := doublestar.Glob(tree, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
