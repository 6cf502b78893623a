package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"fusebox/cmd/mount"
	"fusebox/cmd/run"
	"fusebox/cmd/test"
	"fusebox/cmd/version"
	"fusebox/pkg/log"
)

func main() {
	root := &cli.Command{
		Name:  "fusebox",
		Usage: "audited FUSE sandbox for containerized test runs",
		Commands: []*cli.Command{
			mount.GetCommand(),
			run.GetCommand(),
			test.GetCommand(),
			version.GetCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			log.ErrorMsg("%s\n", msg)
		}
		code := 1
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}
