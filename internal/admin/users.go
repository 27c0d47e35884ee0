package admin

import (
	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/urfave/cli/v2"
)

func (a *Admin) userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "manage users",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				ArgsUsage: "USER",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "password", Usage: "password (prompted for when absent)"},
				},
				Action: a.userCreate,
			},
			{Name: "delete", ArgsUsage: "USER", Action: a.userDelete},
			{Name: "list", Action: a.userList},
			{Name: "show", ArgsUsage: "USER", Action: a.userShow},
			{Name: "passwd", ArgsUsage: "USER", Action: a.userPasswd},
		},
	}
}

func (a *Admin) userCreate(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user := argv[0]

	password := c.String("password")
	if password == "" {
		if password, err = ReadNewPassword(a.out, user); err != nil {
			return err
		}
	}
	if _, err := a.app.Users().Create(c.Context, user, password, c.String("email")); err != nil {
		return err
	}
	a.printf("created user %s\n", user)
	return nil
}

func (a *Admin) userDelete(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	if err := a.app.Users().Delete(c.Context, argv[0]); err != nil {
		return err
	}
	a.printf("deleted user %s\n", argv[0])
	return nil
}

func (a *Admin) userList(c *cli.Context) error {
	names, err := a.app.Users().List(c.Context)
	if err != nil {
		return err
	}
	for _, n := range names {
		a.printf("%s\n", n)
	}
	return nil
}

func (a *Admin) userShow(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	info, err := a.app.Users().Get(c.Context, argv[0])
	if err != nil {
		return err
	}
	return a.printJSON(info)
}

// userPasswd asks twice for the new password, three times at most.
func (a *Admin) userPasswd(c *cli.Context) error {
	argv, err := args(c, 1)
	if err != nil {
		return err
	}
	user := argv[0]

	exists, err := a.app.Users().Exists(c.Context, user)
	if err != nil {
		return err
	}
	if !exists {
		return &common.NotFoundError{Kind: "user", Name: user}
	}

	password, err := ReadNewPassword(a.out, user)
	if err != nil {
		return err
	}
	if _, err := a.app.Users().SetPassword(c.Context, user, password); err != nil {
		return err
	}
	a.printf("password changed for %s\n", user)
	return nil
}
