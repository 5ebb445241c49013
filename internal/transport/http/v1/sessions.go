package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/autoreply/internal/domain"
)

// StartSession claims a new session and requests pairing.
// POST /v1/whatsapp/session/start
func (h *Handler) StartSession(c echo.Context) error {
	var opts domain.StartOptions
	// The body is optional.
	if err := c.Bind(&opts); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.service.StartSession(c.Request().Context(), userID(c), opts)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetStatus returns the active session, or a disconnected placeholder.
// GET /v1/whatsapp/session/status
func (h *Handler) GetStatus(c echo.Context) error {
	session, err := h.service.GetStatus(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetQR returns the current pairing payload.
// GET /v1/whatsapp/session/qr
func (h *Handler) GetQR(c echo.Context) error {
	qr, err := h.service.GetQR(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, qr)
}

// DisconnectSession tears the active session down. It succeeds when there is none.
// POST /v1/whatsapp/session/disconnect
func (h *Handler) DisconnectSession(c echo.Context) error {
	if err := h.service.DisconnectSession(c.Request().Context(), userID(c)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": domain.SessionStatusDisconnected,
	})
}

// TogglePause flips the pause switch.
// POST /v1/whatsapp/session/pause
func (h *Handler) TogglePause(c echo.Context) error {
	res, err := h.service.TogglePause(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ToggleAutoReply flips the auto-reply switch.
// POST /v1/whatsapp/session/auto-reply
func (h *Handler) ToggleAutoReply(c echo.Context) error {
	res, err := h.service.ToggleAutoReply(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// UpdateSessionSettings applies a partial settings update.
// PUT /v1/whatsapp/session/settings
func (h *Handler) UpdateSessionSettings(c echo.Context) error {
	var settings domain.SessionSettings
	if err := c.Bind(&settings); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := h.service.UpdateSessionSettings(c.Request().Context(), userID(c), settings)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}
