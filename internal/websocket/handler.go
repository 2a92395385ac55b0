package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/smartbin/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a Hub
// client until the page goes away. Origins must match the Host header.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == "" {
			http.Error(w, "Not authenticated", http.StatusUnauthorized)
			return
		}

		// The server's write timeout would otherwise cut long-lived connections.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logger.Warn("clear write deadline", "error", err)
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		NewClient(hub, conn, userID).Run(r.Context())
	}
}
