// Package api exposes the HTTP surface: the GitHub webhook intake and a
// couple of operational endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/coordinator"
)

// Server is the HTTP front of the service.
type Server struct {
	echo        *echo.Echo
	port        int
	coordinator *coordinator.Coordinator
	botLogin    string
}

// NewServer wires the routes onto a fresh echo instance.
func NewServer(port int, coord *coordinator.Coordinator, botLogin string) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:        e,
		port:        port,
		coordinator: coord,
		botLogin:    botLogin,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"in_flight": s.coordinator.Status(),
		})
	})

	s.echo.POST("/webhook", s.handleWebhook)
}

// Start runs the server until an interrupt or termination signal arrives,
// then shuts down the HTTP listener and drains in-flight analysis attempts.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()
	log.Info().Int("port", s.port).Msg("webhook server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return err
	}

	s.coordinator.Close(30 * time.Second)
	return nil
}
