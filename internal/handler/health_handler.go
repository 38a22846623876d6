package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-roadmap/internal/config"
	"github.com/noah-isme/gema-roadmap/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Sessions    int       `json:"sessions"`
}

// HealthCheck reports application health and the number of live roadmap sessions.
func HealthCheck(cfg config.Config, sessions func() int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if sessions != nil {
			payload.Sessions = sessions()
		}

		return utils.OK(c, payload, "service healthy", nil)
	}
}
