package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dragonflyoss/vortex/pkg/cli/config"
	controller "github.com/dragonflyoss/vortex/pkg/controller/http"
	"github.com/dragonflyoss/vortex/pkg/controller/tcp"
	"github.com/dragonflyoss/vortex/pkg/usecase"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg  config.Server
		storageCfg config.Storage
		sentryCfg  config.Sentry
		configPath string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "TOML config file; explicit flags take precedence",
			Destination: &configPath,
			Sources:     cli.EnvVars("VORTEX_CONFIG"),
		},
	}
	flags = append(flags, serverCfg.Flags()...)
	flags = append(flags, storageCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serve pieces over the Vortex protocol",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			if configPath != "" {
				f, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				f.Apply(c.IsSet, &serverCfg, &storageCfg, &sentryCfg)
			}

			flush, err := sentryCfg.Configure()
			if err != nil {
				return err
			}
			defer flush()

			store, closeStore, err := storageCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			logger.Info("Starting vortex server",
				slog.String("addr", serverCfg.Addr),
				slog.String("health_addr", serverCfg.HealthAddr),
				slog.Any("storage", storageCfg),
				slog.Any("sentry", sentryCfg),
			)

			// Create use cases
			pieceUC := usecase.NewPiece(store)

			server := tcp.NewServer(pieceUC,
				tcp.WithAddr(serverCfg.Addr),
				tcp.WithIdleTimeout(serverCfg.IdleTimeout),
			)
			if err := server.Listen(); err != nil {
				return goerr.Wrap(err, "failed to start vortex server")
			}

			errCh := make(chan error, 2)
			go func() {
				errCh <- server.Serve(ctx)
			}()

			var healthServer *controller.Server
			if serverCfg.HealthAddr != "" {
				healthServer, err = controller.NewServer(ctx, controller.WithAddr(serverCfg.HealthAddr))
				if err != nil {
					return goerr.Wrap(err, "failed to create HTTP server")
				}

				go func() {
					logger.Info("HTTP server starting", slog.String("addr", serverCfg.HealthAddr))
					if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						errCh <- goerr.Wrap(err, "HTTP server error")
					}
				}()
			}

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			case runErr = <-errCh:
				logger.Error("Server stopped unexpectedly", slog.Any("error", runErr))
			}

			// Graceful shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if healthServer != nil {
				if err := healthServer.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown HTTP server gracefully", slog.Any("error", err))
				}
			}
			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			logger.Info("Server shutdown complete")
			return runErr
		},
	}
}
