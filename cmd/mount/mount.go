package mount

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"fusebox/cmd/shared"
	"fusebox/pkg/config"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
	"fusebox/pkg/sandbox"
)

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "mount",
		Usage:     "Serve the sandbox filesystem until interrupted",
		ArgsUsage: "source [mountpoint]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log.SetDebug(cmd.Bool(shared.DebugFlag))

			file, err := shared.LoadConfigFile(cmd, ".")
			if err != nil {
				return err
			}

			cfg := shared.SandboxConfig(cmd, file)
			if v := cmd.Args().Get(0); v != "" {
				cfg.Root = v
			}
			if v := cmd.Args().Get(1); v != "" {
				cfg.Mountpoint = v
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

			sb, err := sandbox.New(cfg, nil, fsm)
			if err != nil {
				return err
			}

			if err := sb.Mount(); err != nil {
				return fmt.Errorf("mounting: %s", err)
			}

			log.InfoMsg("Press Ctrl-C to unmount\n")
			sb.Wait(ctx)

			sb.Quiesce()
			if err := sb.Report(os.Stdout); err != nil {
				log.ErrorMsg("Writing the access report: %s\n", err)
			}

			if err := sb.Close(); err != nil {
				return fmt.Errorf("cleaning up: %s", err)
			}

			return nil
		},
		Flags: append(shared.GetSandboxFlags(), shared.GetCommonFlags()...),
	}
}
