package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ember/internal/config"
	"ember/internal/store"
)

// newMigrateCommand applies the schema to QUEUE_DB_PATH, creating the
// database file if it doesn't exist yet. Safe to run repeatedly: every
// statement is CREATE TABLE/INDEX IF NOT EXISTS.
func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "db:migrate",
		Short: "Apply the schema to the configured database file",
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

			if err := s.EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			fmt.Println(green(fmt.Sprintf("schema applied to %s", cfg.DBPath)))
			return nil
		},
	}
}
