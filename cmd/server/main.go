/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the BetelChain purchase server. Handles
  configuration, dependency injection, and graceful shutdown.

COMMANDS:
  betelchain serve        Run the HTTP API (and the reconciliation scheduler)
  betelchain migrate      Create or upgrade the database schema, then exit
  betelchain reconcile    Run one reconciliation sweep, then exit
  betelchain seed <name>  Load a demo scenario into a warehouse
  betelchain config init  Write a default config file

STARTUP SEQUENCE (serve):
  1. Resolve configuration (defaults, YAML file, .env, environment)
  2. Initialize SQLite store
  3. Build pricing policy and event publisher
  4. Create engine, handler and router
  5. Start scheduler and server with graceful shutdown

COMMON FLAGS:
  --config   YAML config file (optional)
  --db       SQLite database path, overrides config
             Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close the event publisher and the database
  4. Exit

EXAMPLES:
  betelchain serve --config ./betelchain.yaml
  betelchain serve --db=":memory:" --port=3000
  BETELCHAIN_KAFKA_BROKERS=localhost:9092 betelchain serve

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	dbPath     string
}

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "betelchain",
		Short:   "Warehouse purchase transactions and payment reconciliation",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newReconcileCommand(opts),
		newSeedCommand(opts),
		newConfigCommand(),
	)

	return rootCmd
}
