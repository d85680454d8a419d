package main

import (
	"context"
	"os"

	"github.com/dukex/devflow/pkg/cmd"
	"github.com/dukex/devflow/pkg/lease"
	"github.com/dukex/devflow/pkg/log"
	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/dukex/devflow/pkg/otelhelper"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmdApp := &cli.Command{
		Name:                  "devflow-engine",
		EnableShellCompletion: true,
		Usage:                 "Start the engine that drives development runs through their phases",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
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
			&cli.DurationFlag{
				Name:    "run-deadline",
				Usage:   "Cancel runs that stay active longer than this (0 disables the watchdog)",
				Value:   0,
				Sources: cli.EnvVars("RUN_DEADLINE"),
			},
			&cli.StringFlag{
				Name:    "watchdog-schedule",
				Usage:   "Cron schedule for the run deadline sweep",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("WATCHDOG_SCHEDULE"),
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

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("devflow-engine").With("engineId", engineID)

			logger.InfoContext(ctx, "Initializing DevFlow Engine")

			registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "devflow-engine", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

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

			var leases lease.Store
			if redisURL := command.String("redis-url"); redisURL != "" {
				leases, err = lease.NewRedisStore(ctx, redisURL)
				if err != nil {
					return err
				}
			} else {
				leases = lease.NewMemoryStore()
			}

			engine := orchestrator.NewEngine(logger, persistence, registry, leases, eventBus, engineID)

			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				tracer, err := otelhelper.NewTracer(ctx, "devflow-engine")
				if err != nil {
					return err
				}

				engine.Tracer = tracer
			}

			manager := NewEngineManager(
				engineID,
				logger,
				engine,
				eventBus,
				persistence,
				command.Duration("run-deadline"),
				command.String("watchdog-schedule"),
			)

			err = manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start engine", "error", err)
			}

			return nil
		},
	}

	err := cmdApp.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
