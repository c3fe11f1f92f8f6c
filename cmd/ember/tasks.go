package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ember/internal/app"
	"ember/internal/config"
	"ember/internal/domain/task"
	"ember/internal/store"
)

// newTasksListCommand lists tasks, optionally filtered to one status.
func newTasksListCommand() *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "tasks:list",
		Short: "List tasks, optionally filtered by status",
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

			var filter *task.Status
			if statusFlag != "" {
				st := task.Status(statusFlag)
				filter = &st
			}

			tasks, err := repo.ListTasks(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			for _, t := range tasks {
				fmt.Printf("%s  %-8s  p%d  attempt %d/%d  %s\n",
					t.ID, t.Status, t.Priority, t.AttemptCount, t.MaxAttempts, truncate(t.Prompt, 60))
			}
			fmt.Println(gray(fmt.Sprintf("%d task(s)", len(tasks))))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "filter by status (queued|leased|running|done|failed|blocked)")
	return cmd
}

// newTasksCreateCommand queues a new task.
func newTasksCreateCommand() *cobra.Command {
	var prompt, mode, title, successCriteria string
	var priority int

	cmd := &cobra.Command{
		Use:   "tasks:create",
		Short: "Queue a new task",
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

			repo := app.New(s, app.WithDefaultMaxAttempts(cfg.MaxAttempts))
			created, err := repo.CreateTask(cmd.Context(), app.CreateTaskInput{
				Title:           title,
				Prompt:          prompt,
				SuccessCriteria: successCriteria,
				Mode:            task.Mode(mode),
				Priority:        priority,
			})
			if err != nil {
				return fmt.Errorf("create task: %w", err)
			}

			fmt.Println(green(fmt.Sprintf("queued task %s", created.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "task prompt (required)")
	cmd.Flags().StringVar(&title, "title", "", "short task title")
	cmd.Flags().StringVar(&successCriteria, "success", "", "success criteria text")
	cmd.Flags().StringVar(&mode, "mode", "", "pipeline mode: auto, lean, or full")
	cmd.Flags().IntVar(&priority, "priority", 3, "priority 1 (highest) through 5 (lowest)")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

// newTasksPurgeCommand removes terminal tasks (and their attempts/events)
// completed before the given age. Operator-invoked maintenance, never run
// automatically.
func newTasksPurgeCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "tasks:purge",
		Short: "Delete terminal tasks older than a given age",
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
			n, err := repo.PurgeCompletedBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("purge tasks: %w", err)
			}

			fmt.Println(green(fmt.Sprintf("purged %d task(s)", n)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "purge terminal tasks completed before now minus this duration")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
