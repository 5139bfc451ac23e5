package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/queue"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	Queue  queue.Queue
	Probes map[string]handler.Probe
}

// Register wires the ops routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})

	app.Get("/health", handler.HealthCheck(cfg, deps.Queue, deps.Probes))
	app.Get("/metrics", observability.MetricsHandler())
}
