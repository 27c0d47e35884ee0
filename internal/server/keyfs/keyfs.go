package keyfs

import (
	"path/filepath"

	"github.com/dmitrijs2005/pkgindex/internal/filex"
	"github.com/spf13/afero"
)

// tmpDir holds scratch directories. It lives on the data tree so a staged
// directory can be renamed into place.
const tmpDir = ".tmp"

// KeyFS bundles the record store with the data tree that holds directory
// keys (index directories, documentation trees).
type KeyFS struct {
	store Store
	fs    afero.Fs
}

func New(store Store, fs afero.Fs) *KeyFS {
	return &KeyFS{store: store, fs: fs}
}

// NewOnDisk roots the data tree at dir on the local filesystem.
func NewOnDisk(store Store, dir string) (*KeyFS, error) {
	root, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return New(store, afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

func (k *KeyFS) Store() Store {
	return k.store
}

func (k *KeyFS) FS() afero.Fs {
	return k.fs
}

// TempDir creates a fresh scratch directory on the data tree.
func (k *KeyFS) TempDir(prefix string) (string, error) {
	if err := k.fs.MkdirAll(tmpDir, 0o770); err != nil {
		return "", err
	}
	return afero.TempDir(k.fs, tmpDir, prefix)
}

// DirPattern is a family of directory keys on the data tree.
type DirPattern struct {
	tmpl template
}

func NewDirPattern(tmpl string) DirPattern {
	return DirPattern{tmpl: newTemplate(tmpl)}
}

// Path binds the placeholders in template order and returns a path on the
// data tree.
func (d DirPattern) Path(values ...string) string {
	return filepath.FromSlash(d.tmpl.fill(values))
}
