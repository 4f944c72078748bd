package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/config"
	"github.com/nedaZarei/PagesDeployService/pkg/db"
	"github.com/nedaZarei/PagesDeployService/pkg/deploy"
	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

// Runner executes one deployment round.
type Runner interface {
	Run(ctx context.Context, req *models.TaskRequest) (*deploy.Outcome, error)
}

type Service struct {
	cfg      *config.Config
	e        *echo.Echo
	deployer Runner
	registry db.Registry
	log      zerolog.Logger
}

func NewService(cfg *config.Config, deployer Runner, registry db.Registry, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		e:        echo.New(),
		deployer: deployer,
		registry: registry,
		log:      logger.With().Str("component", "http").Logger(),
	}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	s.e.Use(requestLogger(s.log))
	s.e.Use(middleware.Recover())

	s.e.GET("/healthz", s.Healthz)
	s.e.POST("/handle_task", s.HandleTask)

	v1 := s.e.Group("/api/v1")
	v1.POST("/task", s.HandleTask)
	v1.GET("/task/:nonce", s.GetTaskStatus)
	return s
}

// StartService serves until Shutdown is called.
func (s *Service) StartService() error {
	addr := ":" + s.cfg.Server.Port
	s.log.Info().Str("addr", addr).Msg("listening")
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight rounds.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
