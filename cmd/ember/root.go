package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ember/internal/config"
	"ember/internal/logging"
)

// Color definitions for ember's console output, mirroring the reference
// CLI's palette.
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// rootFlags holds the persistent flag values every subcommand reads.
type rootFlags struct {
	verbose bool
	debug   bool
}

// NewRootCommand builds the ember command tree: gateway, worker,
// db:migrate, status, tasks:list, tasks:create, tasks:purge, events:tail.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "ember",
		Short: "Durable task orchestration: queue, lease, and run phased work",
		Long: `ember runs a single-node durable task queue: a Gateway that accepts
and tracks tasks, and one or more workers that lease them and drive a
phase pipeline against a pluggable LLM provider.

Examples:
  ember gateway                          # start the Gateway HTTP server
  ember worker --provider claude_code    # start a worker against that provider
  ember tasks:create --prompt "..."      # queue a task
  ember tasks:list --status queued       # inspect the queue
  ember tasks:purge --older-than 720h    # drop old terminal tasks
  ember events:tail --limit 20           # watch recent events
  ember db:migrate                       # apply schema to QUEUE_DB_PATH`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			level := os.Getenv("LOG_LEVEL")
			if flags.debug {
				level = "debug"
			} else if flags.verbose {
				level = "debug"
			}
			logging.Configure(level)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "verbose logging")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "debug logging")

	root.AddCommand(newGatewayCommand())
	root.AddCommand(newWorkerCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newTasksListCommand())
	root.AddCommand(newTasksCreateCommand())
	root.AddCommand(newTasksPurgeCommand())
	root.AddCommand(newEventsTailCommand())

	viper.SetConfigName("ember-config")
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("ember")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	return root
}
