package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetConfig returns the caller's automation config, creating the defaults on first access.
// GET /v1/whatsapp/config
func (h *Handler) GetConfig(c echo.Context) error {
	cfg, err := h.service.GetConfig(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// UpdateConfig replaces the caller's automation config.
// PUT /v1/whatsapp/config
func (h *Handler) UpdateConfig(c echo.Context) error {
	ctx := c.Request().Context()

	// Start from the stored config so omitted fields keep their values.
	cfg, err := h.service.GetConfig(ctx, userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	update := *cfg
	if err := c.Bind(&update); err != nil {
		return badRequest(c, "invalid request body")
	}

	saved, err := h.service.UpdateConfig(ctx, userID(c), &update)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}
