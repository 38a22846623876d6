package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-roadmap/internal/config"
	"github.com/noah-isme/gema-roadmap/internal/handler"
	"github.com/noah-isme/gema-roadmap/internal/middleware"
	"github.com/noah-isme/gema-roadmap/internal/observability"
)

const (
	roadmapRateLimit  = 120
	roadmapRateWindow = time.Minute
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoadmapHandler *handler.RoadmapHandler
	JWTMiddleware  fiber.Handler
	SessionCount   func() int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.SessionCount))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.RoadmapHandler != nil {
		requireStudent := middleware.WithAuth(func(c *fiber.Ctx) error { return c.Next() }, middleware.AuthOptions{Role: middleware.AuthRoleStudent})
		roadmap := api.Group("/roadmap", jwtMiddleware, requireStudent, middleware.RateLimit("roadmap", roadmapRateLimit, roadmapRateWindow))
		deps.RoadmapHandler.Register(roadmap)
	}
}
