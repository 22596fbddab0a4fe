package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"billingdesk/internal/common"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop().Sugar())
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

// bareClient has no connection; enough for exercising the hub loop.
func bareClient(hub *Hub, buffer int) *Client {
	return &Client{id: "bare", send: make(chan []byte, buffer), direct: make(chan []byte, 1), hub: hub}
}

func TestHub_UpdateFansOutFrames(t *testing.T) {
	hub := newRunningHub(t)
	c := bareClient(hub, 4)
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	event := common.NotificationEvent{
		Kind:         common.EventCreated,
		Notification: &common.Notification{ID: "n1", Kind: common.KindLowStock},
	}
	require.NoError(t, hub.Update(event))

	select {
	case frame := <-c.send:
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(frame, &got))
		assert.Equal(t, "created", got["event"])
		assert.Equal(t, "n1", got["notification"].(map[string]interface{})["id"])
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := newRunningHub(t)
	slow := bareClient(hub, 1)
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Update(common.NotificationEvent{Kind: common.EventUpdated}))
	}
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := newRunningHub(t)
	c := bareClient(hub, 1)
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Equal(t, "websocket_hub", hub.Name())
}

type recordingStock struct {
	mu    sync.Mutex
	calls []string
	stock []int
}

func (r *recordingStock) HandleStockChange(_ context.Context, productID string, currentStock int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, productID)
	r.stock = append(r.stock, currentStock)
	return nil
}

func (r *recordingStock) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWS_PushesEvents(t *testing.T) {
	hub := newRunningHub(t)
	tokens := common.NewTokenManager("secret", time.Hour)
	server := httptest.NewServer(ServeWS(hub, tokens, &recordingStock{}))
	defer server.Close()

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Update(common.NotificationEvent{
		Kind:         common.EventResolved,
		Notification: &common.Notification{ID: "n9", IsResolved: true},
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame common.NotificationEvent
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, common.EventResolved, frame.Kind)
	assert.Equal(t, "n9", frame.Notification.ID)
}

func TestServeWS_StockChangedRequiresToken(t *testing.T) {
	hub := newRunningHub(t)
	tokens := common.NewTokenManager("secret", time.Hour)
	stock := &recordingStock{}
	server := httptest.NewServer(ServeWS(hub, tokens, stock))
	defer server.Close()

	anon := dial(t, server, "")
	require.NoError(t, anon.WriteJSON(map[string]interface{}{"type": "stock_changed", "productId": "p1", "currentStock": 2}))
	_ = anon.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply errorFrame
	require.NoError(t, anon.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, 0, stock.count())

	token, err := tokens.GenerateToken("admin", "admin")
	require.NoError(t, err)
	authed := dial(t, server, "?token="+token)
	require.NoError(t, authed.WriteJSON(map[string]interface{}{"type": "stock_changed", "productId": "p1", "currentStock": 2}))

	assert.Eventually(t, func() bool { return stock.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"p1"}, stock.calls)
	assert.Equal(t, []int{2}, stock.stock)
}

func TestServeWS_RejectsBadToken(t *testing.T) {
	hub := newRunningHub(t)
	server := httptest.NewServer(ServeWS(hub, common.NewTokenManager("secret", time.Hour), nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
