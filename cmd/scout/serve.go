package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/techscout/pkg/kernel"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, err := newLogger(os.Stdout, cfg, true)
			if err != nil {
				return err
			}
			logger.Info("starting techscout kernel")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger, cfg)
			if err != nil {
				return fmt.Errorf("kernel startup failed: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("shutdown cleanup failed", "error", err)
				}
			}()

			apiServer, err := kernel.NewServer(logger, a.runs, a.bus, a.tracer, a.settings)
			if err != nil {
				return err
			}

			c := cors.New(cors.Options{
				AllowedOrigins:   a.config.Server.AllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: true,
			})

			httpServer := &http.Server{
				Addr:              a.config.Server.Addr,
				Handler:           c.Handler(apiServer.Handler()),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gCtx := errgroup.WithContext(ctx)

			g.Go(func() error {
				logger.Info("starting api server", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("api server failed: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gCtx.Done()
				logger.Info("shutting down api server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
