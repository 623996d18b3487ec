package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/codehub-crawler/internal/app"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var withEmulator bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the task API",
		Long: `Starts the HTTP API, re-enqueues every task left pending by a previous
process, and serves until SIGINT or SIGTERM. Shutdown stops accepting
requests, then waits for in-flight work units to drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), withEmulator)
		},
	}
	cmd.Flags().BoolVar(&withEmulator, "with-emulator", false, "also serve the code-hosting emulator on emulator.port")
	return cmd
}

func runServe(parent context.Context, withEmulator bool) error {
	a, rt, err := buildApp(parent)
	if err != nil {
		return err
	}
	defer closeApp(a, rt.logger)
	logger := rt.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{a.HTTPServer()}
	if withEmulator {
		servers = append(servers, app.EmulatorServer(rt.cfg, logger.Named("emulator")))
	}

	if err := a.GetOrchestrator().RestoreQueueTasks(ctx); err != nil {
		logger.Error("restore pending tasks failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		if err := a.Drain(context.WithoutCancel(gctx)); err != nil {
			logger.Warn("work units still running at exit", zap.Int("units", a.GetQueue().Len()), zap.Error(err))
		}
		logger.Info("shutdown complete")
		return errors.Join(errs...)
	})
	return g.Wait()
}
