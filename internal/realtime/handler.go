package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"

	"billingdesk/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// back-office screens are served from other origins on the LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the connection to the hub.
// A valid ?token= makes the connection authenticated, which is required to
// send stock_changed frames. Without it the connection only receives events.
func ServeWS(hub *Hub, tokens *common.TokenManager, stock StockChangeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := ""
		if raw := r.URL.Query().Get("token"); raw != "" {
			claims, err := tokens.ValidToken(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			user = claims.Username
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warnw("websocket upgrade failed", "error", err)
			return
		}

		client := NewClient(conn, hub, user, stock)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}
