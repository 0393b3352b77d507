package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/relaypulse/internal/domain"
	"github.com/pscheid92/relaypulse/internal/metrics"
	"github.com/pscheid92/relaypulse/internal/platform/correlation"
)

const maxMessageSize = 64 * 1024

// --- Health handlers ---

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    s.registry.SessionCount(),
		"channels":    s.registry.ChannelCount(),
		"connections": s.table.Size(),
	})
}

// --- WebSocket handler ---

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.acquire(ip)
	if !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "remote_ip", ip, "reason", reason)
		return c.String(http.StatusTooManyRequests, "connection limit reached")
	}
	defer s.limits.release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}
	conn.SetReadLimit(maxMessageSize)

	// Connection-scoped context: the read loop outlives nothing but the
	// connection itself, and every log line shares one correlation id.
	ctx := correlation.WithID(context.Background(), correlation.NewID())

	writer := newClientWriter(conn, s.clock)

	sessionID, err := s.protocol.Connect(ctx, func(id string) { s.table.bind(id, writer) })
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register session", "error", err)
		writer.stopGraceful("registration failed")
		return nil
	}

	// Removal hooks close the writer via the table; this covers reaper
	// evictions and protocol-driven removal alike.
	defer s.protocol.Disconnect(ctx, sessionID)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env domain.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.protocol.MalformedPayload(ctx, sessionID)
			continue
		}
		s.protocol.HandleEnvelope(ctx, sessionID, env)
	}

	return nil
}
