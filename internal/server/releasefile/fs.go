package releasefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"
)

// FSStore keeps release files on an afero filesystem, normally the data tree.
type FSStore struct {
	fs afero.Fs
}

func NewFSStore(fs afero.Fs) *FSStore {
	return &FSStore{fs: fs}
}

// Store writes content next to a temporary name and renames it into place,
// so readers never see a partial file.
func (s *FSStore) Store(ctx context.Context, user, index, filename string, content []byte) (*Entry, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	digest := digestOf(content)
	relpath := Relpath(user, index, digest, filename)

	if err := s.fs.MkdirAll(path.Dir(relpath), 0o770); err != nil {
		return nil, fmt.Errorf("create release dir: %w", err)
	}
	tmp := relpath + "-tmp"
	if err := afero.WriteFile(s.fs, tmp, content, 0o660); err != nil {
		return nil, fmt.Errorf("write release file: %w", err)
	}
	if err := s.fs.Rename(tmp, relpath); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("rename release file: %w", err)
	}

	e := entryForRelpath(relpath)
	e.SHA256 = digest
	return e, nil
}

func (s *FSStore) GetEntry(relpath string) *Entry {
	return entryForRelpath(relpath)
}

func (s *FSStore) DeleteIndex(ctx context.Context, user, index string) (int, error) {
	root := path.Clean(IndexPrefix(user, index))

	n := 0
	err := afero.Walk(s.fs, root, func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}

	if err := s.fs.RemoveAll(root); err != nil {
		return 0, fmt.Errorf("remove %s: %w", root, err)
	}
	return n, nil
}
