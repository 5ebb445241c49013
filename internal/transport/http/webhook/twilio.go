// Package webhook receives inbound messages pushed by webhook-driven transports.
package webhook

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Twilio-Signature"
	emptyTwiML      = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// TwilioReceiver routes webhook messages and checks their signatures.
type TwilioReceiver interface {
	transport.InboundReceiver
	ValidateSignature(fullURL string, params map[string]string, signature string) bool
}

// TwilioHandler handles Twilio's incoming-message webhook.
type TwilioHandler struct {
	receiver TwilioReceiver
	// baseURL is the public origin Twilio calls. Signatures cover the full URL.
	baseURL  string
	validate bool
	logger   *zap.Logger
}

// NewTwilioHandler creates a webhook handler.
func NewTwilioHandler(receiver TwilioReceiver, publicBaseURL string, validate bool, logger *zap.Logger) *TwilioHandler {
	return &TwilioHandler{
		receiver: receiver,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		validate: validate,
		logger:   logger.Named("webhook"),
	}
}

// RegisterRoutes registers the webhook route.
func (h *TwilioHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/twilio/:user_id", h.Receive)
}

// Receive accepts one incoming WhatsApp message.
// POST /webhooks/twilio/:user_id
func (h *TwilioHandler) Receive(c echo.Context) error {
	userID := c.Param("user_id")

	form, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid webhook payload"})
	}

	if h.validate {
		params := make(map[string]string, len(form))
		for k, v := range form {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		signature := c.Request().Header.Get(signatureHeader)
		if signature == "" || !h.receiver.ValidateSignature(h.fullURL(c), params, signature) {
			h.logger.Warn("rejected webhook with invalid signature", zap.String("user_id", userID))
			return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{Error: "invalid signature"})
		}
	}

	var payload transport.TwilioWebhook
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid webhook payload"})
	}
	// Delivery receipts share the endpoint and carry no sender.
	if payload.MessageSid == "" || payload.From == "" {
		return h.ack(c)
	}

	if err := h.receiver.Deliver(userID, payload.ToInbound()); err != nil {
		if errors.Is(err, transport.ErrUnknownSession) {
			h.logger.Warn("webhook for user without session",
				zap.String("user_id", userID), zap.String("message_sid", payload.MessageSid))
			return h.ack(c)
		}
		h.logger.Error("failed to deliver webhook", zap.String("user_id", userID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "delivery failed"})
	}
	return h.ack(c)
}

func (h *TwilioHandler) fullURL(c echo.Context) string {
	if h.baseURL != "" {
		return h.baseURL + c.Request().URL.RequestURI()
	}
	return c.Scheme() + "://" + c.Request().Host + c.Request().URL.RequestURI()
}

// ack replies with an empty TwiML document so Twilio sends nothing itself.
func (h *TwilioHandler) ack(c echo.Context) error {
	return c.Blob(http.StatusOK, "text/xml", []byte(emptyTwiML))
}
