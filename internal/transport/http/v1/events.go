package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/autoreply/internal/domain"
)

// StreamEvents upgrades to a WebSocket carrying the caller's status events.
// GET /v1/whatsapp/events
func (h *Handler) StreamEvents(c echo.Context) error {
	if h.events == nil {
		return c.JSON(http.StatusNotImplemented, domain.ErrorResponse{Error: "status stream disabled"})
	}
	// The upgrader writes its own error response.
	_ = h.events.ServeWS(c.Response(), c.Request(), userID(c))
	return nil
}
