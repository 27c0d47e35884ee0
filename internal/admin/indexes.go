package admin

import (
	"github.com/urfave/cli/v2"
)

func (a *Admin) indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "manage index configs",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "create a stage (defaults: type=stage bases=root/pypi volatile=true)",
				ArgsUsage: "USER/INDEX [type=...] [bases=a/b,c/d] [volatile=...] [acl_upload=u1,u2]",
				Action:    a.indexCreate,
			},
			{
				Name:      "modify",
				Usage:     "change the given fields of an index config",
				ArgsUsage: "USER/INDEX key=value...",
				Action:    a.indexModify,
			},
			{
				Name:      "delete",
				Usage:     "remove an index config, keeping its data",
				ArgsUsage: "USER/INDEX",
				Action:    a.indexDelete,
			},
			{
				Name:      "purge",
				Usage:     "remove the data of an index",
				ArgsUsage: "USER/INDEX",
				Action:    a.indexPurge,
			},
			{Name: "list", ArgsUsage: "USER", Action: a.indexList},
			{Name: "show", ArgsUsage: "USER/INDEX", Action: a.indexShow},
		},
	}
}

func (a *Admin) indexCreate(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user, index, err := stageArg(argv[0])
	if err != nil {
		return err
	}
	u, err := parseIndexSpec(argv[1:])
	if err != nil {
		return err
	}
	r, err := a.app.Indexes().CreateStage(c.Context, user, index, u)
	if err != nil {
		return err
	}
	a.printf("created %s\n", r.Name())
	return nil
}

func (a *Admin) indexModify(c *cli.Context) error {
	argv, err := args(c, 2)
	if err != nil {
		return err
	}
	user, index, err := stageArg(argv[0])
	if err != nil {
		return err
	}
	// modify never creates
	if _, err := a.app.Indexes().GetIndexConfig(c.Context, user, index); err != nil {
		return err
	}
	u, err := parseIndexSpec(argv[1:])
	if err != nil {
		return err
	}
	cfg, err := a.app.Indexes().SetIndexConfig(c.Context, user, index, u)
	if err != nil {
		return err
	}
	return a.printJSON(cfg)
}

func (a *Admin) indexDelete(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user, index, err := stageArg(argv[0])
	if err != nil {
		return err
	}
	existed, err := a.app.Indexes().DeleteIndexConfig(c.Context, user, index)
	if err != nil {
		return err
	}
	if !existed {
		a.printf("index %s does not exist\n", argv[0])
		return nil
	}
	a.printf("deleted index config %s/%s\n", user, index)
	return nil
}

func (a *Admin) indexPurge(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user, index, err := stageArg(argv[0])
	if err != nil {
		return err
	}
	existed, err := a.app.Indexes().DeleteIndex(c.Context, user, index)
	if err != nil {
		return err
	}
	if !existed {
		a.printf("no data for %s/%s\n", user, index)
		return nil
	}
	a.printf("purged %s/%s\n", user, index)
	return nil
}

func (a *Admin) indexList(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	names, err := a.app.Indexes().ListIndexes(c.Context, argv[0])
	if err != nil {
		return err
	}
	for _, n := range names {
		a.printf("%s/%s\n", argv[0], n)
	}
	return nil
}

func (a *Admin) indexShow(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user, index, err := stageArg(argv[0])
	if err != nil {
		return err
	}
	cfg, err := a.app.Indexes().GetIndexConfig(c.Context, user, index)
	if err != nil {
		return err
	}
	return a.printJSON(cfg)
}
