package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/pkgindex/internal/admin"
	"github.com/spf13/afero"
)

func main() {
	tool := admin.New(os.Stdout, afero.NewOsFs(), admin.DefaultOpener)
	if err := tool.CLI().RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "stagectl:", err)
		os.Exit(1)
	}
}
