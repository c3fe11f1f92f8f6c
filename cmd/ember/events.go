package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ember/internal/app"
	"ember/internal/config"
	"ember/internal/store"
)

// newEventsTailCommand prints the most recent events, optionally scoped
// to one task, newest first.
func newEventsTailCommand() *cobra.Command {
	var limit int
	var taskID string

	cmd := &cobra.Command{
		Use:   "events:tail",
		Short: "Print recent events",
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

			var filter *string
			if taskID != "" {
				filter = &taskID
			}

			events, err := repo.ListEvents(cmd.Context(), limit, filter)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			for _, ev := range events {
				id := "-"
				if ev.TaskID != nil {
					id = *ev.TaskID
				}
				fmt.Printf("%s  %-5s  %-10s  %-10s  %s\n",
					ev.CreatedAt.Format("15:04:05"), levelColor(string(ev.Level)), id, ev.Phase, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events to print")
	cmd.Flags().StringVar(&taskID, "task-id", "", "restrict to one task's events")
	return cmd
}

func levelColor(level string) string {
	switch level {
	case "error":
		return red(level)
	case "warn":
		return yellow(level)
	default:
		return level
	}
}
