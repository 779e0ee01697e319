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

	"github.com/siftd/sift/internal/api"
	"github.com/siftd/sift/internal/app"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Minute // ingestion requests can run long
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := app.Setup(ctx)
		if err != nil {
			return fmt.Errorf("initializing application: %w", err)
		}
		defer a.Close()

		server, err := api.NewServer(api.ServerConfig{
			Logger:   a.Logger,
			Ingester: a.Ingester,
			Answerer: a.Engine,
			Backend:  a.Store.Kind(),
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}

		srv := &http.Server{
			Addr:              a.Config.Server.Addr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		}

		a.Logger.Info("HTTP server ready", "addr", a.Config.Server.Addr, "backend", a.Store.Kind())

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			a.Logger.Info("shutting down HTTP server")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutting down server: %w", err)
			}
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serving: %w", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
