// Package main provides the DevFlow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/dukex/devflow/pkg/persistence"
	"github.com/dukex/devflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger          *slog.Logger
	persistence     persistence.Persistence
	engine          *orchestrator.Engine
	validate        *validator.Validate
	defaultExecutor string
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *orchestrator.Engine,
	defaultExecutor string,
) *API {
	return &API{
		logger:          logger,
		persistence:     persistence,
		engine:          engine,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		defaultExecutor: defaultExecutor,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.persistence, a.validate, a.defaultExecutor)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("DevFlow API")
	})

	web.RegisterRoutes(app, handlers)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
