// Package api exposes the gateway over HTTP: health and schema discovery,
// trigger management, Prometheus metrics, and the WebSocket streaming
// endpoint.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tycostream/tycostream/pkg/config"
	"github.com/tycostream/tycostream/pkg/gateway"
	"github.com/tycostream/tycostream/pkg/trigger"
)

// Server is the HTTP front of the gateway.
type Server struct {
	cfg      *config.Config
	gateway  *gateway.Gateway
	triggers *trigger.Engine

	echo *echo.Echo
	http *http.Server

	connManager *ConnectionManager
}

// NewServer wires the routes. Start brings the listener up.
func NewServer(cfg *config.Config, gw *gateway.Gateway, triggers *trigger.Engine) *Server {
	s := &Server{
		cfg:         cfg,
		gateway:     gw,
		triggers:    triggers,
		echo:        echo.New(),
		connManager: NewConnectionManager(gw, cfg.Server.WriteTimeout.Std()),
	}

	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler)

	metricsHandler := promhttp.Handler()
	s.echo.GET("/metrics", func(c *echo.Context) error {
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	v1 := s.echo.Group("/api/v1")
	v1.GET("/sources", s.listSourcesHandler)
	v1.GET("/triggers", s.listTriggersHandler)
	v1.POST("/triggers", s.createTriggerHandler)
	v1.DELETE("/triggers/:source/:name", s.deleteTriggerHandler)

	return s
}

// Start serves until the listener fails or Shutdown runs. It blocks.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections, drains in-flight requests, and
// closes every WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connManager.CloseAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
