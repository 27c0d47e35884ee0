package mirror

import (
	"context"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
)

// KeyFSUpstream serves a link snapshot kept in the record store. Whatever
// syncs the upstream repository writes into it with SetLinks and
// RemoveProject.
type KeyFSUpstream struct {
	kfs   *keyfs.KeyFS
	user  string
	index string
}

func NewKeyFSUpstream(kfs *keyfs.KeyFS, user, index string) *KeyFSUpstream {
	return &KeyFSUpstream{kfs: kfs, user: user, index: index}
}

func (u *KeyFSUpstream) key(name string) keyfs.Key[[]string] {
	return keyfs.MIRRORLINKS.Key(u.kfs, u.user, u.index, name)
}

// SetLinks replaces the links of a project. Every link is checked first and
// all bad ones are reported together.
func (u *KeyFSUpstream) SetLinks(ctx context.Context, name string, links []string) error {
	var msgs []string
	if msg := models.CheckName("project", name); msg != "" {
		msgs = append(msgs, msg)
	}
	for _, l := range links {
		if _, err := releasefile.EntryFromURL(l); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if err := common.NewValidationError(msgs); err != nil {
		return err
	}
	stored := append([]string{}, links...)
	return u.key(name).Set(ctx, &stored)
}

func (u *KeyFSUpstream) RemoveProject(ctx context.Context, name string) error {
	return u.key(name).Delete(ctx)
}

func (u *KeyFSUpstream) ProjectNames(ctx context.Context) ([]string, error) {
	return keyfs.MIRRORLINKS.ListNames(ctx, u.kfs, "name", keyfs.Params{"user": u.user, "index": u.index})
}

func (u *KeyFSUpstream) ReleaseLinks(ctx context.Context, name string) ([]*releasefile.Entry, error) {
	links, err := u.key(name).Get(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]*releasefile.Entry, 0, len(*links))
	for _, l := range *links {
		e, err := releasefile.EntryFromURL(l)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
