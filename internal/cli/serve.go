package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"modeldb/config"
	"modeldb/internal/catalog"
	"modeldb/internal/registry"
	"modeldb/internal/schema"
	"modeldb/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the modeldb HTTP server",
	Long: `Start the HTTP server. The naming hierarchy and model definitions are
persisted in the catalog database; vector index contents live in memory for
the lifetime of the process.

Examples:
  modeldb serve
  modeldb serve --addr :9000`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	logger := server.NewLogger(cfg.Logging.Level)

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = config.CatalogPath(GetDataDir())
		if err := config.EnsureDataDir(GetDataDir()); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	cat, err := catalog.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	reg := registry.New(schema.NewMaterializer())
	srv := server.New(cfg, logger, cat, reg)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "catalog", cfg.Storage.Path)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
