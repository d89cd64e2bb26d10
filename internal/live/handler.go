package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// ServeOwner upgrades the request to a WebSocket and streams ownerID's
// updates until the client goes away. Callers authenticate first.
func (h *Hub) ServeOwner(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "owner_id", ownerID, "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())

	updates, unsubscribe := h.Subscribe(ownerID)
	defer unsubscribe()

	if err := write(ctx, conn, Update{OwnerID: ownerID, Kind: KindHello}); err != nil {
		return
	}
	slog.Debug("live feed opened", "owner_id", ownerID)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := write(ctx, conn, u); err != nil {
				slog.Debug("live feed closed", "owner_id", ownerID, "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, u Update) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, u)
}
