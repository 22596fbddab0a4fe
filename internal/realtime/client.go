package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be shorter than pongWait
	maxMessageSize = 1024
	sendBuffer     = 64
)

// StockChangeHandler receives stock levels reported by a counter screen.
type StockChangeHandler interface {
	HandleStockChange(ctx context.Context, productID string, currentStock int) error
}

// inboundFrame is what a client may send. Only stock_changed is acted on.
type inboundFrame struct {
	Type         string `json:"type"`
	ProductID    string `json:"productId"`
	CurrentStock *int   `json:"currentStock"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type Client struct {
	id      string
	user    string // empty for read-only viewers
	conn    *websocket.Conn
	send    chan []byte // hub broadcasts; closed by the hub
	direct  chan []byte // replies to this client; never closed
	hub     *Hub
	stock   StockChangeHandler
	limiter *rate.Limiter
}

func NewClient(conn *websocket.Conn, hub *Hub, user string, stock StockChangeHandler) *Client {
	return &Client{
		id:      uuid.NewString(),
		user:    user,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		direct:  make(chan []byte, 8),
		hub:     hub,
		stock:   stock,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// ReadPump consumes inbound frames until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debugw("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply(errorFrame{Type: "error", Error: "malformed frame"})
		return
	}

	switch frame.Type {
	case "stock_changed":
		if c.user == "" || c.stock == nil {
			c.reply(errorFrame{Type: "error", Error: "stock updates require an authenticated connection"})
			return
		}
		stock := -1
		if frame.CurrentStock != nil {
			stock = *frame.CurrentStock
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.stock.HandleStockChange(ctx, frame.ProductID, stock); err != nil {
			c.hub.log.Warnw("stock change failed", "client", c.id, "product", frame.ProductID, "error", err)
			c.reply(errorFrame{Type: "error", Error: err.Error()})
		}
	case "ping":
		c.reply(map[string]string{"type": "pong"})
	default:
		// unknown frame types are ignored
	}
}

// reply queues a direct frame for this client without blocking the read loop.
func (c *Client) reply(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.direct <- b:
	default:
	}
}

// WritePump drains the send channel and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-c.direct:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
