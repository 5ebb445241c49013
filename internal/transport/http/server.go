// Package http provides the HTTP server of the auto-reply service.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/xiaot623/autoreply/internal/config"
	"github.com/xiaot623/autoreply/internal/hub"
	"github.com/xiaot623/autoreply/internal/service"
	v1 "github.com/xiaot623/autoreply/internal/transport/http/v1"
	"github.com/xiaot623/autoreply/internal/transport/http/webhook"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const version = "0.1.0"

// NewServer creates and configures the API server. events and twilio may be nil.
func NewServer(cfg *config.Config, svc *service.Service, events *hub.Hub, twilio webhook.TwilioReceiver, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", health)

	api := e.Group("/v1")
	if cfg.APIRateLimit > 0 {
		api.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.APIRateLimit))))
	}
	v1.NewHandler(svc, events, logger).RegisterRoutes(api)

	if twilio != nil {
		webhook.NewTwilioHandler(twilio, cfg.PublicBaseURL, cfg.TwilioValidateWebhook, logger).RegisterRoutes(e)
	}

	return e
}

// health returns health status.
func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
