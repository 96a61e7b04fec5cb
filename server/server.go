package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/cfipros/acstracker/internal/profile"
	apiv1 "github.com/cfipros/acstracker/server/router/api/v1"
	"github.com/cfipros/acstracker/server/runner/stage"
	"github.com/cfipros/acstracker/server/runner/sweeper"
	"github.com/cfipros/acstracker/store"
)

type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer  *echo.Echo
	stageRunner *stage.Runner
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.Debug = true
	echoServer.HideBanner = true
	echoServer.HidePort = true
	s.echoServer = echoServer

	echoServer.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status)
			return nil
		},
	}))
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
	}))
	echoServer.Use(echomiddleware.TimeoutWithConfig(echomiddleware.TimeoutConfig{
		Timeout: 30 * time.Second,
	}))

	secret := profile.Secret
	if secret == "" {
		return nil, errors.New("access token secret is required")
	}
	s.Secret = secret

	s.stageRunner = stage.NewRunner(store, stage.DefaultRegistry(profile.SimulatedStepDelay), stage.Options{
		MaxConcurrentSessions: profile.MaxConcurrentSessions,
		StepTimeout:           profile.StepTimeout,
	})

	apiV1Service := apiv1.NewAPIV1Service(secret, profile, store, s.stageRunner)
	apiV1Service.RegisterRoutes(echoServer)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	go s.StartBackgroundRunners(ctx)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "mode", s.Profile.Mode)
	return s.echoServer.Start(address)
}

// StartBackgroundRunners starts the periodic maintenance loops. They stop
// when ctx is cancelled.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	sweepRunner := sweeper.NewRunner(s.Store, s.Profile.SweepInterval, s.Profile.SessionTTL, s.Profile.ResultGrace)
	go sweepRunner.Run(ctx)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests first, then let in-flight sessions settle.
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if err := s.stageRunner.Shutdown(ctx); err != nil {
		slog.Warn("stage runner did not drain before shutdown deadline", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("server shutdown complete")
}
