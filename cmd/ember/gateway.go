package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ember/internal/app"
	"ember/internal/config"
	gatewayhttp "ember/internal/gateway/http"
	"ember/internal/store"
)

// newGatewayCommand starts the Gateway HTTP server: the queue API, the
// worker lease/heartbeat/complete endpoints, and the NDJSON run-streaming
// endpoint, all backed by one SQLite file.
func newGatewayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the Gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGateway()
			if err != nil {
				return fmt.Errorf("load gateway config: %w", err)
			}
			if err := checkStartup(cfg.DBPath); err != nil {
				return err
			}

			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			repo := app.New(s, app.WithDefaultMaxAttempts(cfg.MaxAttempts))
			server := gatewayhttp.NewServer(repo, gatewayhttp.Config{DefaultLeaseTTL: cfg.LeaseTTL}, cfg.APIPort)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				fmt.Fprintln(os.Stderr, gray("shutting down gateway..."))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}
}
