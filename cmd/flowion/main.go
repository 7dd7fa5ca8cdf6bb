package main

import (
	"context"
	"os"

	"github.com/flowion/flowion/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("cli")

	command := &cli.Command{
		Name:                  "flowion",
		Usage:                 "Inspect and validate flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "flows",
				Aliases: []string{"f"},
				Usage:   "Manage flows",
				Commands: []*cli.Command{
					{
						Name:      "validate",
						Aliases:   []string{"v"},
						Usage:     "Compile a flow definition file and report dangling references",
						ArgsUsage: "<flow.json>",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							log.Setup(cmd.String("log-level"))

							return validateFlow(cmd.Args().First())
						},
					},
					{
						Name:    "list",
						Aliases: []string{"ls"},
						Usage:   "List flows stored in the database",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "database-url",
								Usage:    "Database connection URL for persistence",
								Required: true,
								Sources:  cli.EnvVars("DATABASE_URL"),
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							log.Setup(cmd.String("log-level"))

							return listFlows(ctx, logger, cmd.String("database-url"))
						},
					},
				},
			},
			{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Manage workers",
				Commands: []*cli.Command{
					{
						Name:    "list",
						Aliases: []string{"ls"},
						Usage:   "List registered worker types",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "plugins-path",
								Usage:   "Path to the directory containing worker plugins",
								Value:   "",
								Sources: cli.EnvVars("PLUGINS_PATH"),
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							log.Setup(cmd.String("log-level"))

							return listWorkers(logger, cmd.String("plugins-path"))
						},
					},
				},
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
