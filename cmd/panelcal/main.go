package main

import (
	"context"
	"fmt"
	"os"

	"panelcal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "panelcal:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
