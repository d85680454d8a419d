package main

import (
	"context"
	"os"

	"github.com/dukex/devflow/pkg/cmd"
	"github.com/dukex/devflow/pkg/executors/subprocess"
	"github.com/dukex/devflow/pkg/lease"
	"github.com/dukex/devflow/pkg/log"
	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	cmdApp := &cli.Command{
		Name:                  "devflow-api",
		Usage:                 "Create and manage development runs",
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
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for run leases (in-memory leases if not provided)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing executor plugins",
				Value:    "./plugins",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "default-executor",
				Usage:   "Executor type used when a run omits its pipeline configuration",
				Value:   subprocess.ExecutorType,
				Sources: cli.EnvVars("DEFAULT_EXECUTOR"),
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

			logger.InfoContext(ctx, "Initializing DevFlow API")

			registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "devflow-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var leases lease.Store
			if redisURL := command.String("redis-url"); redisURL != "" {
				leases, err = lease.NewRedisStore(ctx, redisURL)
				if err != nil {
					return err
				}
			} else {
				leases = lease.NewMemoryStore()
			}

			engineID := "api-" + uuid.New().String()[:8]
			engine := orchestrator.NewEngine(logger, persistence, registry, leases, eventBus, engineID)
			defer engine.Stop()

			api := NewAPI(
				logger,
				persistence,
				engine,
				command.String("default-executor"),
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmdApp.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
