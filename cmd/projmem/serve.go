package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/projmem/internal/api"
	"github.com/iammorganparry/clive/apps/projmem/internal/maintenance"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP memory server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.LogLevel)
			slog.SetDefault(logger)

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runner := maintenance.New(a.registry, a.manager, logger)
			if err := runner.Start(cfg.MaintenanceSchedule); err != nil {
				return err
			}
			defer runner.Stop()

			addr := fmt.Sprintf(":%d", cfg.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      api.NewRouter(a.svc, cfg.APIKey, logger),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.Info("memory server starting",
					"addr", addr,
					"data_dir", cfg.DataDir,
					"vector_backend", cfg.VectorBackend,
					"projects", a.registry.Len(),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}
			logger.Info("shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
			}

			logger.Info("server stopped")
			return nil
		},
	}
}
