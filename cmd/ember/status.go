package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ember/internal/app"
	"ember/internal/config"
	"ember/internal/store"
)

// newStatusCommand prints a one-shot summary of queue depth by status,
// a cheap health check operators can run without hitting the Gateway.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the task queue by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGateway()
			if err != nil {
				return fmt.Errorf("load gateway config: %w", err)
			}

			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			repo := app.New(s)
			tasks, err := repo.ListTasks(cmd.Context(), nil)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			counts := map[string]int{}
			for _, t := range tasks {
				counts[string(t.Status)]++
			}

			fmt.Println(bold(fmt.Sprintf("%d tasks total", len(tasks))))
			for _, status := range []string{"queued", "leased", "running", "done", "failed", "blocked"} {
				fmt.Printf("  %-8s %s\n", status, colorForStatus(status, counts[status]))
			}
			return nil
		},
	}
}

func colorForStatus(status string, n int) string {
	text := fmt.Sprintf("%d", n)
	switch status {
	case "done":
		return green(text)
	case "failed":
		return red(text)
	case "blocked":
		return yellow(text)
	default:
		return text
	}
}
