package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ember/internal/config"
	"ember/internal/logging"
	"ember/internal/provider"
	"ember/internal/provider/claudecode"
	"ember/internal/provider/codex"
	"ember/internal/runner"
)

// newWorkerCommand starts a Phase Runner loop against one provider
// adapter, polling the Gateway for leased tasks until interrupted.
func newWorkerCommand() *cobra.Command {
	var providerName, binaryPath, model, workerID string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker that leases and executes tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWorker()
			if err != nil {
				return fmt.Errorf("load worker config: %w", err)
			}
			if err := checkRunsDir(); err != nil {
				return err
			}

			registry := provider.NewRegistry(
				claudecode.New(binaryPath, model),
				codex.New(binaryPath, model),
			)
			adapter, ok := registry.Get(providerName)
			if !ok {
				return fmt.Errorf("unknown provider %q (known: %s, %s)", providerName, claudecode.Name, codex.Name)
			}

			if workerID == "" {
				workerID = defaultWorkerID()
			}

			logger := logging.NewComponentLogger("Worker")
			client := runner.NewGatewayClient(cfg.APIBaseURL)
			r := runner.New(runner.Config{
				WorkerID:     workerID,
				PollInterval: cfg.PollInterval,
				LeaseTTL:     cfg.LeaseTTL,
				PhaseTimeout: cfg.PhaseTimeout,
			}, client, adapter, logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, gray("shutting down worker..."))
				cancel()
			}()

			fmt.Fprintln(os.Stdout, blue(fmt.Sprintf("worker %s polling %s against provider %s", workerID, cfg.APIBaseURL, adapter.Name())))
			r.Loop(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", claudecode.Name, "provider adapter to run phases against")
	cmd.Flags().StringVar(&binaryPath, "binary", "", "path to the provider's CLI binary (defaults to $PATH lookup)")
	cmd.Flags().StringVar(&model, "model", "", "model name to pass to the provider")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "stable identifier for this worker (defaults to hostname-pid)")

	return cmd
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
