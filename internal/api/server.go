package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github/chapool/ledger-provider/internal/config"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/metrics"
)

// Provider is what the management API needs from the ledger provider.
type Provider interface {
	GetAddress(index ...int) (string, bool)
	GetAddresses() []string
	DeviceHandle() (device.Handle, bool)
	Running() bool
}

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server is a central struct keeping all the dependencies of the management API.
// Echo and Router are initialized with router.Init(s).
type Server struct {
	Echo   *echo.Echo
	Router *Router

	Config   config.Provider
	Provider Provider
	Metrics  *metrics.Service
}

func NewServer(cfg config.Provider, provider Provider, metrics *metrics.Service) *Server {
	return &Server{
		Config:   cfg,
		Provider: provider,
		Metrics:  metrics,
	}
}

// Ready reports whether the provider accepts requests and a device is attached.
func (s *Server) Ready() bool {
	if s.Provider == nil || s.Metrics == nil {
		log.Debug().Msg("Server is not fully initialized")
		return false
	}

	if !s.Provider.Running() {
		return false
	}

	_, attached := s.Provider.DeviceHandle()
	return attached
}

func (s *Server) Start() error {
	if s.Echo == nil || s.Provider == nil {
		return errors.New("server is not initialized")
	}

	if err := s.Echo.Start(s.Config.Management.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	return errs
}
