package cli

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

	"github.com/eden-portal/eden/internal/api"
	"github.com/eden-portal/eden/internal/daemon"
	"github.com/eden-portal/eden/internal/infra/mirror"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mirrorCmd)

	serveCmd.Flags().Bool("metrics", true, "Expose /metrics")
	serveCmd.Flags().Int("port", 0, "API port (overrides config)")
	mirrorCmd.Flags().Int("port", 0, "Mirror port (overrides config)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the state daemon and its HTTP API",
	Long: `Open the local state, connect to the mirror when sync.remote_url is
set, start the automation jobs and serve the HTTP API until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.API.Port = port
	}

	ctx, stop := signalContext()
	defer stop()

	sup, err := daemon.NewSupervisor(cfg, logger, daemon.Options{})
	if err != nil {
		return err
	}
	defer sup.Close()
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	srv := api.NewServer(sup, logger)
	if metrics, _ := cmd.Flags().GetBool("metrics"); metrics {
		srv.EnableMetrics()
	}
	httpSrv := &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.APIAddr(), "data_dir", cfg.Data.Dir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ─── mirror ─────────────────────────────────────────────────────────────────

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Run the remote document mirror",
	Long: `Serve the document store that portal clients mirror their state to.
The backend is sqlite by default; set mirror.backend = "postgres" or
EDEN_DATABASE_URL to use PostgreSQL.`,
	RunE: runMirror,
}

func runMirror(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Mirror.Port = port
	}

	ctx, stop := signalContext()
	defer stop()

	docs, closeDocs, err := daemon.OpenDocuments(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDocs()

	logger.Info("mirror backend ready", "backend", cfg.Mirror.Backend)
	return mirror.NewServer(docs, cfg.MirrorServerConfig(logger)).ListenAndServe(ctx)
}
