package admin

import (
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func (a *Admin) docCommand() *cli.Command {
	return &cli.Command{
		Name:  "doc",
		Usage: "publish and inspect documentation trees",
		Subcommands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "publish a zip archive as the documentation of a project",
				ArgsUsage: "USER/INDEX NAME ZIPFILE",
				Action:    a.docUpload,
			},
			{
				Name:      "ls",
				Usage:     "list published documentation files",
				ArgsUsage: "USER/INDEX NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pattern", Value: "**", Usage: "glob, ** matches across directories"},
				},
				Action: a.docList,
			},
		},
	}
}

func (a *Admin) docUpload(c *cli.Context) error {
	argv, err := args(c, 3)
	if err != nil {
		return err
	}
	st, err := a.privateStage(c.Context, argv[0])
	if err != nil {
		return err
	}
	content, err := afero.ReadFile(a.fs, argv[2])
	if err != nil {
		return err
	}
	dir, err := st.StoreDoczip(c.Context, argv[1], content)
	if err != nil {
		return err
	}
	a.printf("published %s\n", dir)
	return nil
}

func (a *Admin) docList(c *cli.Context) error {
	argv, err := args(c, 2)
	if err != nil {
		return err
	}
	st, err := a.privateStage(c.Context, argv[0])
	if err != nil {
		return err
	}
	files, err := st.DocFiles(c.Context, argv[1], c.String("pattern"))
	if err != nil {
		return err
	}
	for _, f := range files {
		a.printf("%s\n", f)
	}
	return nil
}
