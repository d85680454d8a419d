package web

import "github.com/gofiber/fiber/v3"

// RegisterRoutes mounts the run management endpoints on the app.
func RegisterRoutes(app *fiber.App, handlers *APIHandlers) {
	runs := app.Group("/runs")
	runs.Get("/", handlers.GetRuns)
	runs.Post("/", handlers.CreateRun)
	runs.Get("/:id", handlers.GetRun)
	runs.Post("/:id/approval", handlers.ResolveApproval)
	runs.Post("/:id/cancel", handlers.CancelRun)

	app.Get("/health", handlers.HealthCheck)
}
