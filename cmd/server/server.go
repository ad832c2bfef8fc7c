package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/api"
	"github/chapool/ledger-provider/internal/api/router"
	"github/chapool/ledger-provider/internal/metrics"
	"github/chapool/ledger-provider/internal/provider"
	"github/chapool/ledger-provider/internal/util/command"
)

const shutdownTimeout = 10 * time.Second

func New() *cobra.Command {
	return &cobra.Command{
		Use:     "server",
		Aliases: []string{"serve"},
		Short:   "Starts the provider and its management server",
		Long: `Starts the provider and its management server.

The provider waits for a Ledger, derives its address book and keeps
serving /-/healthy, /-/ready, /metrics and /api/v1/accounts until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd)
		},
	}
}

func runServer(cmd *cobra.Command) error {
	cfg, err := command.LoadConfig(cmd)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return command.WithProvider(ctx, cfg, provider.Options{Observer: m}, func(ctx context.Context, p *provider.LedgerProvider) error {
		s := api.NewServer(cfg, p, m)
		router.Init(s)

		errs := make(chan error, 1)
		go func() {
			log.Info().Str("listen_address", cfg.Management.ListenAddress).Msg("Starting management server")
			if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
			close(errs)
		}()

		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-errs:
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		for _, err := range s.Shutdown(shutdownCtx) {
			log.Error().Err(err).Msg("Failed to shut down management server")
		}

		return serveErr
	})
}
