package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movieflix-seatlock/internal/realtime"
)

// WebSocketHandler upgrades GET /ws and hands the connection to the gateway.
type WebSocketHandler struct {
	gateway  *realtime.Gateway
	upgrader websocket.Upgrader
	opts     realtime.ServeOptions
}

// NewWebSocketHandler builds the handler. An empty allowedOrigins accepts
// every origin.
func NewWebSocketHandler(gw *realtime.Gateway, allowedOrigins []string, opts realtime.ServeOptions) *WebSocketHandler {
	if gw == nil {
		panic("nil gateway passed to NewWebSocketHandler")
	}
	return &WebSocketHandler{
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(allowedOrigins),
		},
		opts: opts,
	}
}

// Serve blocks for the lifetime of the connection.
func (h *WebSocketHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		slog.Debug("WebSocket upgrade failed", "error", err, "remote_addr", c.RealIP())
		return nil
	}
	realtime.Serve(h.gateway, conn, h.opts)
	return nil
}

// NewCheckOrigin accepts requests without an Origin header (non-browser
// clients) and origins whose scheme://host is in allowed.
func NewCheckOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		if o := extractOrigin(a); o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set[extractOrigin(origin)] {
			return true
		}
		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
