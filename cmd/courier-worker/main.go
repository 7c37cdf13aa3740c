package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "courier-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the dispatch worker, the scheduler cron and the HTTP surface",
		Commands: []*cli.Command{
			NewRunCommand(),
			NewDryRunCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
