package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func newUpgrader(checkOrigin func(r *http.Request) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// handleWebSocket upgrades the request and hands the connection to the hub,
// which pushes notifications and nearby snapshots until the client leaves.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	if err := s.hub.Serve(conn); err != nil {
		slog.WarnContext(c.Request().Context(), "WebSocket client rejected", "error", err)
	}
	return nil
}
