package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bearing-technology/routing-backend/internal/kvstore"
)

// RegisterRoutes mounts the routing surface, health check, and metrics.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st kvstore.Store, handler *Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	routing := app.Group("/routing")
	routing.Post("/quote/v2", handler.QuoteHandler)
	routing.Post("/execute/v2", handler.ExecuteHandler)
	routing.Post("/webhooks/deposit", handler.DepositWebhookHandler)
	routing.Get("/status", handler.StatusHandler)
	routing.Get("/quotes", handler.LiveQuotesHandler)
}
