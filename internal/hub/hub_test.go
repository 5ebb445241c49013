package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

// loopRelay is an in-process relay shared by several hubs.
type loopRelay struct {
	mu        sync.Mutex
	listeners []func([]byte)
	published int
}

func (r *loopRelay) Publish(ctx context.Context, data []byte) error {
	r.mu.Lock()
	r.published++
	listeners := append(([]func([]byte))(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l(data)
	}
	return nil
}

func (r *loopRelay) Listen(ctx context.Context, deliver func([]byte)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, deliver)
	r.mu.Unlock()
	<-ctx.Done()
}

func (r *loopRelay) listening() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func startHub(t *testing.T, relay Relay) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(relay, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return h, srv
}

func dial(t *testing.T, h *Hub, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.Eventually(t, func() bool { return h.HasSubscribers(userID) }, time.Second, 5*time.Millisecond)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.StatusEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var evt domain.StatusEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestPublishReachesOnlyTheUser(t *testing.T) {
	h, srv := startHub(t, nil)
	alice := dial(t, h, srv, "alice")
	bob := dial(t, h, srv, "bob")

	h.Publish(domain.StatusEvent{Type: domain.EventTypeQR, UserID: "alice", SessionID: "wa_1", QRCode: "qr-data"})
	h.Publish(domain.StatusEvent{Type: domain.EventTypeSessionStatus, UserID: "bob", SessionID: "wa_2", Status: domain.SessionStatusConnected})

	evt := readEvent(t, alice)
	assert.Equal(t, domain.EventTypeQR, evt.Type)
	assert.Equal(t, "qr-data", evt.QRCode)

	evt = readEvent(t, bob)
	assert.Equal(t, "wa_2", evt.SessionID)
	assert.Equal(t, domain.SessionStatusConnected, evt.Status)
	assert.Equal(t, 2, h.ConnectionCount())
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h, srv := startHub(t, nil)
	ws := dial(t, h, srv, "alice")

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return !h.HasSubscribers("alice") }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.ConnectionCount())
}

func TestRelayFansOutAcrossHubs(t *testing.T) {
	relay := &loopRelay{}
	h1, srv1 := startHub(t, relay)
	h2, srv2 := startHub(t, relay)
	require.Eventually(t, func() bool { return relay.listening() == 2 }, time.Second, 5*time.Millisecond)

	on1 := dial(t, h1, srv1, "alice")
	on2 := dial(t, h2, srv2, "alice")

	h1.Publish(domain.StatusEvent{Type: domain.EventTypeMessage, UserID: "alice", MessageID: "msg_1"})

	assert.Equal(t, "msg_1", readEvent(t, on1).MessageID)
	assert.Equal(t, "msg_1", readEvent(t, on2).MessageID)
	assert.Equal(t, 1, relay.published)
}

func TestPublishWithoutRunningHubDoesNotBlock(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(domain.StatusEvent{UserID: "alice"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
}
