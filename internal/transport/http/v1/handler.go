// Package v1 provides the public HTTP handlers of the auto-reply API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/autoreply/internal/domain"
	"github.com/xiaot623/autoreply/internal/hub"
	"github.com/xiaot623/autoreply/internal/repository"
	"github.com/xiaot623/autoreply/internal/service"
	"go.uber.org/zap"
)

// UserHeader identifies the caller. Authentication happens upstream.
const UserHeader = "X-User-ID"

const userKey = "user_id"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	events  *hub.Hub
	logger  *zap.Logger
}

// NewHandler creates a new handler. events may be nil, which disables the status stream.
func NewHandler(service *service.Service, events *hub.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		events:  events,
		logger:  logger.Named("api"),
	}
}

// RegisterRoutes registers the /v1 routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	wa := g.Group("/whatsapp", RequireUser)

	// Session lifecycle
	wa.POST("/session/start", h.StartSession)
	wa.GET("/session/status", h.GetStatus)
	wa.GET("/session/qr", h.GetQR)
	wa.POST("/session/disconnect", h.DisconnectSession)
	wa.POST("/session/pause", h.TogglePause)
	wa.POST("/session/auto-reply", h.ToggleAutoReply)
	wa.PUT("/session/settings", h.UpdateSessionSettings)

	// Automation config
	wa.GET("/config", h.GetConfig)
	wa.PUT("/config", h.UpdateConfig)

	// Ledger
	wa.GET("/messages", h.ListMessages)
	wa.POST("/messages/send", h.SendMessage)

	wa.GET("/events", h.StreamEvents)
}

// RequireUser rejects requests without a caller identity.
func RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(UserHeader)
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{Error: "missing " + UserHeader + " header"})
		}
		c.Set(userKey, userID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userKey).(string)
	return id
}

// fail maps service errors to status codes.
func (h *Handler) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoActiveSession), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrSessionNotConnected), errors.Is(err, repository.ErrSessionConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.Path()), zap.String("user_id", userID(c)), zap.Error(err))
	}
	return c.JSON(status, domain.ErrorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg})
}
