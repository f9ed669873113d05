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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskpilot/internal/db"
	apihttp "taskpilot/internal/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskpilot",
		Short:         "TaskPilot auth API and email dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the email dispatcher when EMBED_DISPATCHER is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the email dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.connectDB(cmd.Context()); err != nil {
				return err
			}
			if err := db.Migrate(cmd.Context(), app.pool); err != nil {
				return err
			}
			app.logger.Info("migrations applied")
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.connectDB(ctx); err != nil {
		return err
	}
	app.connectRedis(ctx)
	if err := app.openQueue(); err != nil {
		return err
	}

	authSvc, userSvc := app.services()
	logger := app.logger
	router := apihttp.NewRouter(
		logger,
		apihttp.RouterConfig{
			AllowedOrigin: app.cfg.AllowedOrigin(),
			Metrics:       promhttp.Handler(),
		},
		apihttp.NewAuthHandler(logger, authSvc),
		apihttp.NewUserHandler(logger, userSvc),
		apihttp.NewHealthHandler(logger, app.readinessChecks()),
		apihttp.SessionAuthMiddleware(logger, authSvc),
	)

	server := &http.Server{
		Addr:              ":" + app.cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", app.cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if app.cfg.EmbedDispatcher {
		d, err := app.dispatcher()
		if err != nil {
			return err
		}
		g.Go(func() error { return d.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func runWorker(ctx context.Context) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.close()

	app.connectRedis(ctx)
	if err := app.openQueue(); err != nil {
		return err
	}
	d, err := app.dispatcher()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + app.cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return d.Run(gctx) })
	return g.Wait()
}
