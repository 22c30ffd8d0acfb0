package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentroom"
	"github.com/hupe1980/agentroom/config"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var fixtures string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket server",
		Long: `Start the agentroom server.

Clients connect to /ws and speak JSON-RPC 2.0. /healthz reports readiness
and /metrics exposes Prometheus metrics. SIGINT or SIGTERM drains
connections and running turns before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, fixtures, nil)
		},
	}
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "seed the store from a fixtures file before serving")
	return cmd
}

// serve runs the app until ctx is done. A non-nil ready receives the bound
// listener address once the server accepts connections.
func serve(ctx context.Context, cfg *config.Config, fixtures string, ready chan<- string) error {
	app, err := agentroom.New(ctx, cfg)
	if err != nil {
		return err
	}
	logger := app.Logger

	if fixtures != "" {
		fx, err := agentroom.LoadFixtures(fixtures)
		if err == nil {
			_, err = agentroom.Seed(ctx, app.Gateway, fx)
		}
		if err != nil {
			shutdownApp(app, cfg.Server.ShutdownTimeout)
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		shutdownApp(app, cfg.Server.ShutdownTimeout)
		return err
	}
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server.listen", "addr", ln.Addr().String(), "storage", cfg.Storage.Driver, "version", version)
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by http.Server, so the
		// app closes them before the listener drains.
		appErr := app.Shutdown(sctx)
		return errors.Join(appErr, srv.Shutdown(sctx))
	})
	err = g.Wait()
	if err != nil {
		logger.Error("server.exit", "error", err)
	}
	return err
}

func shutdownApp(app *agentroom.App, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		app.Logger.Warn("server.shutdown.error", "error", err)
	}
}
