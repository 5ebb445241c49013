package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/autoreply/internal/domain"
)

// ListMessages returns one page of the caller's message ledger.
// GET /v1/whatsapp/messages?page=&limit=&chat_id=&direction=&status=
func (h *Handler) ListMessages(c echo.Context) error {
	page := 1
	if p := c.QueryParam("page"); p != "" {
		val, err := strconv.Atoi(p)
		if err != nil || val < 1 {
			return badRequest(c, "page must be a positive integer")
		}
		page = val
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = val
	}

	filter := domain.MessageFilter{
		ChatID:    c.QueryParam("chat_id"),
		Direction: domain.Direction(c.QueryParam("direction")),
		Status:    domain.MessageStatus(c.QueryParam("status")),
		Limit:     limit,
		Page:      page,
	}
	switch filter.Direction {
	case "", domain.DirectionInbound, domain.DirectionOutbound:
	default:
		return badRequest(c, "direction must be inbound or outbound")
	}

	result, err := h.service.ListMessages(c.Request().Context(), userID(c), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SendMessage sends an operator-authored message, bypassing automation.
// POST /v1/whatsapp/messages/send
func (h *Handler) SendMessage(c echo.Context) error {
	var req domain.ManualSendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	msg, err := h.service.SendManual(c.Request().Context(), userID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}
