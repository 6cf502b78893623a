package run

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"fusebox/cmd/shared"
	"fusebox/pkg/config"
	"fusebox/pkg/exec"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
	"fusebox/pkg/sandbox"
)

// PtyFlag is the name of the flag to run the command on a pty.
const PtyFlag = "pty"

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a command against the sandboxed view and report its file accesses",
		ArgsUsage: "-- command [args...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log.SetDebug(cmd.Bool(shared.DebugFlag))

			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("no command given, pass it after --")
			}

			file, err := shared.LoadConfigFile(cmd, ".")
			if err != nil {
				return err
			}

			cfg := shared.SandboxConfig(cmd, file)
			if cfg.Root == "" {
				wd, err := config.GetGetwdFunc(nil)()
				if err != nil {
					return fmt.Errorf("os.Getwd(): %s", err)
				}
				cfg.Root = wd
			}

			if errors := config.Validate(cfg); len(errors) > 0 {
				log.ErrorMsg("Argument validation errors:\n")
				for _, err := range errors {
					log.ErrorMsg(" - %s\n", err)
				}
				return fmt.Errorf("exiting")
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel)

			var fsm *metrics.FS
			if addr := cmd.String(shared.MetricsFlag); addr != "" {
				fsm = metrics.NewFS()
				go func() {
					if err := metrics.Serve(ctx, addr); err != nil {
						log.ErrorMsg("Metrics server: %s\n", err)
					}
				}()
			}

			command := &exec.Command{
				Program: args[0],
				Args:    args[1:],
			}

			code, err := sandbox.Run(ctx, cfg, nil, fsm, command, cmd.Bool(PtyFlag))
			if err != nil {
				return err
			}
			if code != 0 {
				return cli.Exit("", code)
			}

			return nil
		},
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:     PtyFlag,
				Aliases:  []string{"t"},
				Usage:    "Run the command on its own pty",
				Value:    false,
				Required: false,
			},
		}, append(shared.GetSandboxFlags(), shared.GetCommonFlags()...)...),
	}
}
