package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/afumu/barlens/web/api"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Service is the HTTP control surface.
type Service struct {
	router *gin.Engine
	server *http.Server
	conf   *Config
	api    *api.API

	// cancels long-lived streams on Stop
	baseCancel context.CancelFunc
}

type Config struct {
	ListenAddr string
}

func NewService(a *api.API, conf *Config) *Service {
	gin.SetMode(gin.ReleaseMode)
	s := &Service{
		router: gin.New(),
		conf:   conf,
		api:    a,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Start binds the listen address and serves in the background.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.conf.ListenAddr)
	if err != nil {
		return err
	}
	base, cancel := context.WithCancel(context.Background())
	s.baseCancel = cancel
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("web service listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("web service stopped unexpectedly")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.baseCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("web service shutdown failed")
		return err
	}

	log.Info().Msg("web service stopped")
	return nil
}

func (s *Service) GetRouter() *gin.Engine {
	return s.router
}
