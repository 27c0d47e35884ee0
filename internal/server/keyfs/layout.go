package keyfs

import "github.com/dmitrijs2005/pkgindex/internal/server/models"

// Record keys.
var (
	// USER holds credentials and every index config of one user.
	USER = NewPattern[models.User]("{user}/.config")

	// PROJCONFIG maps version to metadata for one project on one index.
	PROJCONFIG = NewPattern[models.ProjectConfig]("{user}/{index}/{name}/.config").WithNew(models.NewProjectConfig)

	// RELDESCRIPTION is the rendered long description of one version.
	RELDESCRIPTION = NewRawPattern("{user}/{index}/{name}/{version}/description_html")

	// DOCINFO records which documentation tree is published for a project.
	// Swaps of the tree happen under its lock.
	DOCINFO = NewPattern[models.DocInfo]("{user}/{index}/{name}/.doc")

	// MIRRORLINKS is the upstream link snapshot of one project on a mirror.
	MIRRORLINKS = NewPattern[[]string]("{user}/{index}/{name}/.links")
)

// Directory keys.
var (
	// INDEXDIR is the data directory of one index.
	INDEXDIR = NewDirPattern("{user}/{index}")

	// STAGEDOCS is the published documentation tree of one project.
	STAGEDOCS = NewDirPattern("{user}/{index}/{name}/+doc")
)

// IndexPrefix is the record-store prefix of everything under user/index.
func IndexPrefix(user, index string) string {
	return user + "/" + index + "/"
}
