// Package admin implements stagectl, the maintenance tool that works
// directly on a server's record store and data tree: users, index configs,
// uploads, documentation and inherited reads.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server"
	"github.com/dmitrijs2005/pkgindex/internal/server/config"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/stage"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// Opener builds the server components the commands work on.
type Opener func(ctx context.Context, cfg *config.Config) (*server.App, error)

// DefaultOpener opens the configured PostgreSQL store, logging to stderr,
// and bootstraps it like the server would. Without a DSN the records would
// live in memory and vanish on exit, so it refuses.
func DefaultOpener(ctx context.Context, cfg *config.Config) (*server.App, error) {
	if cfg.DatabaseDSN == "" {
		return nil, common.NewValidationError([]string{"no database configured: set --dsn or database_dsn"})
	}
	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := app.Bootstrap(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("bootstrap: %w", err), app.Close())
	}
	return app, nil
}

type Admin struct {
	out  io.Writer
	fs   afero.Fs
	open Opener

	cfg *config.Config
	app *server.App
}

// New returns the tool. Files named on the command line are read from fs.
func New(out io.Writer, fs afero.Fs, open Opener) *Admin {
	return &Admin{out: out, fs: fs, open: open}
}

// CLI builds the command tree.
func (a *Admin) CLI() *cli.App {
	return &cli.App{
		Name:   "stagectl",
		Usage:  "manage users, indexes and packages of a pkgindex server",
		Writer: a.out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "server config file (JSON or TOML)"},
			&cli.StringFlag{Name: "data-dir", Usage: "override the data directory"},
			&cli.StringFlag{Name: "dsn", Usage: "override the PostgreSQL DSN"},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.userCommand(),
			{
				Name:      "login",
				Usage:     "print an upload token for a user",
				ArgsUsage: "USER",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "password", Usage: "password (prompted for when absent)"},
				},
				Action: a.login,
			},
			a.indexCommand(),
			{
				Name:      "register",
				Usage:     "register version metadata",
				ArgsUsage: "USER/INDEX name=NAME version=VERSION [key=value...]",
				Action:    a.register,
			},
			{
				Name:      "upload",
				Usage:     "store release files",
				ArgsUsage: "USER/INDEX FILE...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "as", Usage: "upload as this user (default: the index owner)"},
					&cli.StringFlag{Name: "token", Usage: "upload as the user a login token was issued to"},
				},
				Action: a.upload,
			},
			a.docCommand(),
			{
				Name:      "links",
				Usage:     "list the release links of a project, inherited ones included",
				ArgsUsage: "USER/INDEX NAME",
				Action:    a.links,
			},
			{
				Name:      "projects",
				Usage:     "list project names, inherited ones included",
				ArgsUsage: "USER/INDEX",
				Action:    a.projects,
			},
			{
				Name:      "mirror-links",
				Usage:     "replace the upstream links of a project on a mirror",
				ArgsUsage: "USER/INDEX NAME URL...",
				Action:    a.mirrorLinks,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration as TOML",
				Action: a.printConfig,
			},
		},
	}
}

func (a *Admin) before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), nil)
	if err != nil {
		return err
	}
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := c.String("dsn"); v != "" {
		cfg.DatabaseDSN = v
	}
	a.cfg = cfg

	// config only prints, it needs no store
	if c.Args().First() == "config" {
		return nil
	}

	app, err := a.open(c.Context, cfg)
	if err != nil {
		return err
	}
	a.app = app
	return nil
}

func (a *Admin) after(*cli.Context) error {
	if a.app == nil {
		return nil
	}
	return a.app.Close()
}

func (a *Admin) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *Admin) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// args checks the positional argument count.
func args(c *cli.Context, min int) ([]string, error) {
	if c.NArg() < min {
		return nil, fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().Slice(), nil
}

func stageArg(name string) (user, index string, err error) {
	user, index, err = models.SplitStageName(name)
	if err != nil {
		return "", "", common.NewValidationError([]string{err.Error()})
	}
	return user, index, nil
}

func (a *Admin) privateStage(ctx context.Context, name string) (*stage.Stage, error) {
	user, index, err := stageArg(name)
	if err != nil {
		return nil, err
	}
	return a.app.Indexes().GetPrivateStage(ctx, user, index)
}

func (a *Admin) register(c *cli.Context) error {
	argv, err := args(c, 2)
	if err != nil {
		return err
	}
	st, err := a.privateStage(c.Context, argv[0])
	if err != nil {
		return err
	}
	md, err := parseMetadata(argv[1:])
	if err != nil {
		return err
	}
	if err := st.RegisterMetadata(c.Context, md); err != nil {
		return err
	}
	a.printf("registered %s %s on %s\n", md.Name, md.Version, st.Name())
	return nil
}

func (a *Admin) upload(c *cli.Context) error {
	argv, err := args(c, 2)
	if err != nil {
		return err
	}
	st, err := a.privateStage(c.Context, argv[0])
	if err != nil {
		return err
	}

	uploader, err := a.uploader(c, st)
	if err != nil {
		return err
	}
	if !st.CanUpload(uploader) {
		return fmt.Errorf("%s may not upload to %s: %w", uploader, st.Name(), common.ErrorUnauthorized)
	}

	for _, path := range argv[1:] {
		content, err := afero.ReadFile(a.fs, path)
		if err != nil {
			return err
		}
		entry, err := st.StoreReleaseFile(c.Context, filepath.Base(path), content)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		a.printf("%s\n", entry.Relpath)
	}
	return nil
}

// uploader resolves who an upload runs as: the holder of --token, the
// --as user, or the index owner.
func (a *Admin) uploader(c *cli.Context, st *stage.Stage) (string, error) {
	token, as := c.String("token"), c.String("as")
	switch {
	case token != "" && as != "":
		return "", common.NewValidationError([]string{"--as and --token are mutually exclusive"})
	case token != "":
		return a.app.Users().Authenticate(c.Context, token)
	case as != "":
		return as, nil
	default:
		return st.User(), nil
	}
}

func (a *Admin) login(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user := argv[0]

	password := c.String("password")
	if password == "" {
		pw, err := GetPassword(a.out, fmt.Sprintf("password for %s: ", user))
		if err != nil {
			return err
		}
		password = string(pw)
		common.WipeByteArray(pw)
	}

	token, err := a.app.Users().Login(c.Context, user, password)
	if err != nil {
		return err
	}
	a.printf("%s\n", token)
	return nil
}

func (a *Admin) links(c *cli.Context) error {
	argv, err := args(c, 2)
	if err != nil {
		return err
	}
	r, err := a.app.Indexes().GetStageByName(c.Context, argv[0])
	if err != nil {
		return err
	}
	links, err := r.GetReleaseLinks(c.Context, argv[1])
	if err != nil {
		return err
	}
	for _, l := range links {
		ref := l.Relpath
		if ref == "" {
			ref = l.URL
		}
		a.printf("%s\t%s\n", l.Basename, ref)
	}
	return nil
}

func (a *Admin) projects(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	r, err := a.app.Indexes().GetStageByName(c.Context, argv[0])
	if err != nil {
		return err
	}
	names, err := r.GetProjectNames(c.Context)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	for _, n := range names {
		a.printf("%s\n", n)
	}
	return nil
}

func (a *Admin) mirrorLinks(c *cli.Context) error {
	argv, err := args(c, 2)
	if err != nil {
		return err
	}
	user, index, err := stageArg(argv[0])
	if err != nil {
		return err
	}
	up, err := a.app.Indexes().MirrorUpstream(c.Context, user, index)
	if err != nil {
		return err
	}
	if len(argv) == 2 {
		return up.RemoveProject(c.Context, argv[1])
	}
	return up.SetLinks(c.Context, argv[1], argv[2:])
}

func (a *Admin) printConfig(*cli.Context) error {
	data, err := toml.Marshal(a.cfg.File())
	if err != nil {
		return err
	}
	_, err = a.out.Write(data)
	return err
}
