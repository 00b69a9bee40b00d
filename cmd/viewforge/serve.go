package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zen-systems/viewforge/cmd/viewforge/ui"
	"github.com/zen-systems/viewforge/pkg/materialize"
	"github.com/zen-systems/viewforge/pkg/metrics"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"github.com/zen-systems/viewforge/pkg/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the turnaround workflow over HTTP",
		Long: `Starts an HTTP server for browser clients: upload an image to start a
	run, follow step status over a websocket, materialize the model and
	download a modeling kit. Prometheus metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(zap.NewAtomicLevelAt(zap.InfoLevel))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			registry, err := pipeline.LoadRegistry(firstNonEmpty(stepsFlag, cfg.StepsFile))
			if err != nil {
				return err
			}
			gen, err := createGenerator(cfg, adapterFlag, modelFlag, logger)
			if err != nil {
				return fmt.Errorf("failed to create adapter: %w", err)
			}

			collector := metrics.NewCollector("viewforge", logger)
			runner, err := pipeline.NewRunner(gen, registry.Steps,
				pipeline.WithLogger(logger),
				pipeline.WithMetrics(collector),
			)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			srv, err := server.New(ctx, server.Options{
				Runner: runner,
				Materializer: materialize.New(materialize.Config{
					Interval: cfg.Materialize.Interval(),
					Duration: cfg.Materialize.Duration(),
				}, logger, collector),
				Metrics:        collector,
				Logger:         logger,
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
				RunsPerMinute:  cfg.Server.RunsPerMinute,
				RunBurst:       cfg.Server.RunBurst,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			addr := firstNonEmpty(addrFlag, cfg.Server.Addr)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			fmt.Fprintln(os.Stderr, ui.InfoMsg("Serving on http://%s with %s", addr, gen.Name()))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				logger.Info("shutting down", zap.String("addr", addr))
				return httpServer.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().StringVar(&adapterFlag, "adapter", "", "image adapter (google, openai, mock)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "model or alias override")
	cmd.Flags().StringVar(&stepsFlag, "steps", "", "step manifest to use instead of the built-in views")
	return cmd
}
