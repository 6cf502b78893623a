package test

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"fusebox/cmd/shared"
	"fusebox/pkg/cache"
	"fusebox/pkg/config"
	"fusebox/pkg/docker"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
	"fusebox/pkg/pipeline"
)

// WorkspaceFlag is the name of the flag to specify the workspace to test.
const WorkspaceFlag = "workspace"

// EventFlag is the name of the flag to specify the triggering event.
const EventFlag = "event"

// BranchFlag is the name of the flag to override the branch the event
// refers to.
const BranchFlag = "branch"

// SHAFlag is the name of the flag to override the commit the event
// refers to.
const SHAFlag = "sha"

// StoreFlag is the name of the flag to specify the cache store
// directory.
const StoreFlag = "store"

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "test",
		Usage:     "Run the containerized test pipeline for a workspace",
		ArgsUsage: " ",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log.SetDebug(cmd.Bool(shared.DebugFlag))

			workspace := cmd.String(WorkspaceFlag)

			file, err := shared.LoadConfigFile(cmd, workspace)
			if err != nil {
				return err
			}

			cfg := file.Test
			if cfg == nil {
				cfg = config.DefaultTest()
			}
			cfg.ApplyDefaults()

			if errors := config.Validate(cfg); len(errors) > 0 {
				log.ErrorMsg("Configuration errors:\n")
				for _, err := range errors {
					log.ErrorMsg(" - %s\n", err)
				}
				return fmt.Errorf("exiting")
			}

			storeDir := cmd.String(StoreFlag)
			if storeDir == "" {
				storeDir = cfg.Store
			}
			if storeDir == "" {
				storeDir = cache.DefaultDir()
			}
			store, err := cache.NewStore(storeDir)
			if err != nil {
				return fmt.Errorf("opening the cache store: %s", err)
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel)

			engine := docker.New(nil)
			version, err := engine.Version(ctx)
			if err != nil {
				return fmt.Errorf("docker is not available: %s", err)
			}
			log.DebugMsg("Docker server version %s\n", version)

			var pm *metrics.Pipeline
			if addr := cmd.String(shared.MetricsFlag); addr != "" {
				pm = metrics.NewPipeline()
				go func() {
					if err := metrics.Serve(ctx, addr); err != nil {
						log.ErrorMsg("Metrics server: %s\n", err)
					}
				}()
			}

			job, err := pipeline.NewJob(cfg, workspace, pipeline.Options{
				Store:   store,
				Engine:  engine,
				Metrics: pm,
			})
			if err != nil {
				return err
			}

			ev := pipeline.Event{
				Name:   cmd.String(EventFlag),
				Branch: cmd.String(BranchFlag),
				SHA:    cmd.String(SHAFlag),
			}

			sum, runErr := job.Run(ctx, ev)
			sum.Render(config.GetStdoutFunc(nil)())

			if runErr != nil {
				var xerr *docker.ExitError
				if errors.As(runErr, &xerr) {
					log.ErrorMsg("%s\n", runErr)
					return cli.Exit("", xerr.Code)
				}
				return runErr
			}

			return nil
		},
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     WorkspaceFlag,
				Aliases:  []string{"w"},
				Usage:    "Workspace directory holding the repository to test",
				Value:    ".",
				Required: false,
			},
			&cli.StringFlag{
				Name:     EventFlag,
				Usage:    "Event to trigger the pipeline with (push, pull_request, ...)",
				Value:    "push",
				Required: false,
			},
			&cli.StringFlag{
				Name:     BranchFlag,
				Usage:    "Branch the event refers to (default: the checked out branch)",
				Value:    "",
				Required: false,
			},
			&cli.StringFlag{
				Name:     SHAFlag,
				Usage:    "Commit the event refers to (default: HEAD)",
				Value:    "",
				Required: false,
			},
			&cli.StringFlag{
				Name:     StoreFlag,
				Usage:    "Cache store directory (default: the user cache dir)",
				Value:    "",
				Required: false,
			},
		}, shared.GetCommonFlags()...),
	}
}
