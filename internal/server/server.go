// Package server assembles the echo application: middleware, authentication,
// and route registration.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vionhq/vion/internal/auth"
	"github.com/vionhq/vion/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

// publicPath reports whether a request path is reachable without a bearer
// token. Webhooks authenticate with platform signatures instead, and the
// widget endpoint is open to anonymous visitors.
func publicPath(path string) bool {
	switch path {
	case "/ping", "/health", "/auth/login", "/api/chat":
		return true
	}
	if strings.HasPrefix(path, "/channels/") && strings.Contains(path, "/webhook/") {
		return true
	}
	return false
}

func NewServer(addr string, jwtSecret string, log *slog.Logger, pingHandler *handlers.PingHandler, authHandler *handlers.AuthHandler, chatHandler *handlers.ChatHandler, webhookHandler *handlers.WebhookHandler, channelsHandler *handlers.ChannelsHandler, operatorHandler *handlers.OperatorHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if log == nil {
		log = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return publicPath(c.Request().URL.Path)
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if authHandler != nil {
		authHandler.Register(e)
	}
	if chatHandler != nil {
		chatHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}
	if channelsHandler != nil {
		channelsHandler.Register(e)
	}
	if operatorHandler != nil {
		operatorHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
