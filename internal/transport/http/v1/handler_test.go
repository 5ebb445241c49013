package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/autoreply/internal/adapter/llm"
	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/config"
	"github.com/xiaot623/autoreply/internal/domain"
	"github.com/xiaot623/autoreply/internal/repository"
	"github.com/xiaot623/autoreply/internal/service"
	"github.com/xiaot623/autoreply/tests/helpers"
	"go.uber.org/zap"
)

type testAPI struct {
	e         *echo.Echo
	store     repository.Store
	transport *transport.MockTransport
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := helpers.NewTestSQLiteStore(t)
	tr := transport.NewMockTransport()
	tr.AutoConnect = true

	cfg := config.Default()
	cfg.Defaults.ResponseDelayMinMs = 0
	cfg.Defaults.ResponseDelayMaxMs = 0
	cfg.TypingMaxDuration = 0

	svc := service.New(store, tr, llm.NewMockClient(), nil, cfg, nil, zap.NewNop())
	t.Cleanup(svc.Close)

	e := echo.New()
	NewHandler(svc, nil, zap.NewNop()).RegisterRoutes(e.Group("/v1"))
	return &testAPI{e: e, store: store, transport: tr}
}

func (a *testAPI) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// connect starts a session and waits for the mock transport to pair it.
func (a *testAPI) connect(t *testing.T, userID string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/whatsapp/session/start", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domain.StartResult
	decode(t, rec, &res)

	require.Eventually(t, func() bool {
		rec := a.do(t, http.MethodGet, "/v1/whatsapp/session/status", userID, nil)
		var s domain.Session
		decode(t, rec, &s)
		return s.Status == domain.SessionStatusConnected
	}, 3*time.Second, 10*time.Millisecond)
	return res.SessionID
}

func TestRequiresUserHeader(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/whatsapp/session/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp domain.ErrorResponse
	decode(t, rec, &resp)
	assert.Contains(t, resp.Error, UserHeader)
}

func TestStatusWithoutSession(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/whatsapp/session/status", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s domain.Session
	decode(t, rec, &s)
	assert.Equal(t, domain.SessionStatusDisconnected, s.Status)
	assert.Empty(t, s.SessionID)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/session/qr", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/session/pause", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/whatsapp/session/start", "u1", domain.StartOptions{PersonaOverride: "Out of office."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domain.StartResult
	decode(t, rec, &res)
	assert.NotEmpty(t, res.SessionID)

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/v1/whatsapp/session/status", "u1", nil)
		var s domain.Session
		decode(t, rec, &s)
		return s.Status == domain.SessionStatusConnected && s.PhoneNumber != ""
	}, 3*time.Second, 10*time.Millisecond)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/session/qr", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var qr domain.QRResponse
	decode(t, rec, &qr)
	assert.Equal(t, res.SessionID, qr.SessionID)
	assert.Empty(t, qr.QRCode, "pairing clears the QR code")

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/session/pause", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var toggle domain.ToggleResponse
	decode(t, rec, &toggle)
	assert.True(t, toggle.IsPaused)
	assert.True(t, toggle.AutoReplyEnabled)

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/session/auto-reply", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &toggle)
	assert.False(t, toggle.AutoReplyEnabled)

	persona := "Be brief."
	rec = api.do(t, http.MethodPut, "/v1/whatsapp/session/settings", "u1", domain.SessionSettings{PersonaOverride: &persona})
	require.Equal(t, http.StatusOK, rec.Code)
	var s domain.Session
	decode(t, rec, &s)
	assert.Equal(t, persona, s.PersonaOverride)
	assert.True(t, s.IsPaused)

	rec = api.do(t, http.MethodPut, "/v1/whatsapp/session/settings", "u1", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/session/disconnect", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/v1/whatsapp/session/disconnect", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, api.transport.Disconnected(), res.SessionID)
	rec = api.do(t, http.MethodGet, "/v1/whatsapp/session/status", "u1", nil)
	decode(t, rec, &s)
	assert.Equal(t, domain.SessionStatusDisconnected, s.Status)
}

func TestConfigEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/whatsapp/config", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg domain.AutomationConfig
	decode(t, rec, &cfg)
	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, "friendly", cfg.Tone)

	rec = api.do(t, http.MethodPut, "/v1/whatsapp/config", "u1", map[string]interface{}{
		"tone":             "formal",
		"blocked_keywords": []string{"urgent"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &cfg)
	assert.Equal(t, "formal", cfg.Tone)
	assert.Equal(t, []string{"urgent"}, cfg.BlockedKeywords)
	assert.Equal(t, "English", cfg.Language, "omitted fields keep their values")

	rec = api.do(t, http.MethodPut, "/v1/whatsapp/config", "u1", map[string]interface{}{
		"response_delay_min_ms": 5000,
		"response_delay_max_ms": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/config", "u1", nil)
	decode(t, rec, &cfg)
	assert.Equal(t, "formal", cfg.Tone)
}

func TestMessagesEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/whatsapp/messages/send", "u1", domain.ManualSendRequest{ChatID: "5511999990001", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	api.connect(t, "u1")

	require.NoError(t, api.transport.Deliver("u1", domain.InboundMessage{
		ExternalID: "ext-1",
		ChatID:     "5511999990001@s.whatsapp.net",
		ContactID:  "5511999990001",
		Content:    "are you open today?",
		Kind:       domain.MessageKindText,
		Timestamp:  time.Now(),
	}))

	var page domain.MessagePage
	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/v1/whatsapp/messages?direction=inbound&status=replied", "u1", nil)
		decode(t, rec, &page)
		return page.Total == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ext-1", page.Messages[0].ExternalID)

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/messages/send", "u1", domain.ManualSendRequest{ChatID: "5511999990001@s.whatsapp.net", Content: "see you at 5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sent domain.Message
	decode(t, rec, &sent)
	assert.Equal(t, domain.DirectionOutbound, sent.Direction)
	assert.Equal(t, domain.MessageStatusSent, sent.Status)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/messages?limit=1&page=2", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Messages, 1)
	assert.True(t, page.HasMore)

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/messages/send", "u1", domain.ManualSendRequest{ChatID: "5511999990001"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/messages?direction=sideways", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/messages?page=0", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/whatsapp/messages", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Messages)
}

func TestSendWhileNotConnected(t *testing.T) {
	api := newTestAPI(t)
	api.transport.AutoConnect = false

	rec := api.do(t, http.MethodPost, "/v1/whatsapp/session/start", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/whatsapp/messages/send", "u1", domain.ManualSendRequest{ChatID: "5511999990001", Content: "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/v1/whatsapp/session/qr", "u1", nil)
		var qr domain.QRResponse
		decode(t, rec, &qr)
		return qr.QRCode != ""
	}, 3*time.Second, 10*time.Millisecond)
}
