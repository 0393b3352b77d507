package server

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pscheid92/relaypulse/internal/config"
	"github.com/pscheid92/relaypulse/internal/protocol"
	"github.com/pscheid92/relaypulse/internal/session"
)

// Server is the WebSocket transport adapter around the broadcast core. It
// owns connection admission, the upgrade handshake, and the per-connection
// read loops; everything after JSON decoding belongs to the protocol.
type Server struct {
	echo     *echo.Echo
	config   *config.Config
	protocol *protocol.Protocol
	registry *session.Registry
	table    *ConnTable
	limits   *connectionLimits
	upgrader websocket.Upgrader
	clock    clockwork.Clock
}

func NewServer(cfg *config.Config, proto *protocol.Protocol, registry *session.Registry, table *ConnTable, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:     e,
		config:   cfg,
		protocol: proto,
		registry: registry,
		table:    table,
		limits:   newConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst, clock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newCheckOrigin(cfg.AllowedOrigins, cfg.AppEnv == "development"),
		},
		clock: clock,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
