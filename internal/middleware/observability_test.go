package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/internal/observability"
)

func TestCorrelationIDPropagates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/api/v1/roadmap", func(c *fiber.Ctx) error {
		require.Equal(t, GetCorrelationID(c), CorrelationIDFromContext(c.UserContext()))
		return c.SendString(GetCorrelationID(c))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/roadmap", nil)
	req.Header.Set(headerCorrelationID, "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get(headerCorrelationID))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/roadmap", nil))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get(headerCorrelationID))
}

func TestObservabilityCountsAPIRequests(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Use(Observability(zerolog.Nop()))
	app.Get("/api/v1/roadmap/progress", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusConflict)
	})
	app.Get("/metrics-check", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	requests := observability.HTTPRequests().WithLabelValues(fiber.MethodGet, "/api/v1/roadmap/progress", "409")
	errorsCounter := observability.HTTPErrors().WithLabelValues(fiber.MethodGet, "/api/v1/roadmap/progress", "409")
	beforeRequests := counterValue(t, requests)
	beforeErrors := counterValue(t, errorsCounter)

	_, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/roadmap/progress", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics-check", nil))
	require.NoError(t, err)

	require.Equal(t, beforeRequests+1, counterValue(t, requests))
	require.Equal(t, beforeErrors+1, counterValue(t, errorsCounter))
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "<=50ms", latencyBucket(0))
	require.Equal(t, ">5s", latencyBucket(6e9))
}
