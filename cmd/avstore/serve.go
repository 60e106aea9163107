package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/avcorr/internal/queue"
	"github.com/devrev/avcorr/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(load func() (*app, error)) *cobra.Command {
	var withQueue bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve shard metadata and sampled examples over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger

			var q *queue.RedisSampleQueue
			if withQueue {
				if q, err = a.newQueue(); err != nil {
					return err
				}
				defer q.Close()
			}

			sc := a.cfg.Server
			srv := server.NewServer(server.Config{
				Host:            sc.Host,
				Port:            sc.Port,
				ReadTimeout:     sc.ReadTimeout,
				WriteTimeout:    sc.WriteTimeout,
				ShutdownTimeout: sc.ShutdownTimeout,
				MaxSamples:      sc.MaxSamples,
				Sample:          a.sampleOptions(),
			}, a.sel, q, a.registry, logger)

			// Start metrics server
			if a.cfg.Metrics.Enabled {
				go func() {
					mux := http.NewServeMux()
					mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
					addr := fmt.Sprintf(":%d", a.cfg.Metrics.Port)
					logger.Info("Starting metrics server", zap.String("address", addr))
					if err := http.ListenAndServe(addr, mux); err != nil {
						logger.Error("Metrics server failed", zap.Error(err))
					}
				}()
			}

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- srv.Start()
			}()

			// Wait for interrupt signal, command cancellation or server error
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-serverErrors:
				return err
			case <-ctx.Done():
				logger.Info("Shutdown requested")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server stop timeout", zap.Error(err))
			}
			logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withQueue, "queue", false, "enable POST /v1/samples/queue backed by Redis")
	return cmd
}
