package main

import (
	"context"
	"os"

	"github.com/flowion/flowion/pkg/cmd"
	"github.com/flowion/flowion/pkg/log"
	"github.com/flowion/flowion/pkg/queue"
	"github.com/flowion/flowion/pkg/schedule"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowion-api",
		Usage:                 "Create, publish and execute flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the store worker and completion queue",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "completion-queue",
				Usage:   "Redis list consumed for asynchronous worker completions",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("COMPLETION_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "callback-base",
				Usage:   "Base URL handed to asynchronous workers for completion callbacks",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("CALLBACK_BASE"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing worker plugins",
				Value:    "",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Flowion API")

			redisClient := cmd.NewRedisClient(command.String("redis-url"))
			registry := cmd.NewRegistry(logger, command.String("plugins-path"), redisClient)
			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowion-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(
				logger,
				persistence,
				registry,
				eventBus,
				command.String("callback-base"),
			)

			app := api.App()
			executor := api.Executor()
			defer executor.Close()

			scheduler := schedule.NewScheduler(persistence, executor, logger)
			if err := scheduler.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start scheduler", "error", err)

				return err
			}
			defer func() {
				if err := scheduler.Stop(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
				}
			}()

			if redisClient != nil {
				consumer, err := queue.NewConsumer(redisClient, command.String("completion-queue"), executor, logger)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to create completion consumer", "error", err)

					return err
				}

				if err := consumer.Start(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to start completion consumer", "error", err)

					return err
				}
				defer func() {
					if err := consumer.Stop(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to stop completion consumer", "error", err)
					}
				}()
			}

			err := api.Start(app, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
