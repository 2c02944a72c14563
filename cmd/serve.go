package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/api"
	"github.com/JakeFAU/urlharvest/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which exposes crawl control over
// HTTP until interrupted.
func newServeCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for starting, inspecting and canceling crawls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rt)
		},
	}
	cmd.Flags().Int("port", 0, "listen port (default from server.port)")
	mustBind(rt.v, "server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(parent context.Context, rt *runtime) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := rt.logger

	a, err := newApp(ctx, rt.cfg, logger, app.WithPerCrawlExports())
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	apiServer := api.NewServer(a.Pipeline(), api.Options{
		APIKey: rt.cfg.Server.APIKey,
		Logger: logger,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// Running crawls are canceled; their collected URLs are still persisted.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("crawl shutdown incomplete", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
