package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/louvredev/BetelChain/api"
	"github.com/louvredev/BetelChain/config"
	"github.com/louvredev/BetelChain/events"
	"github.com/louvredev/BetelChain/factory"
	"github.com/louvredev/BetelChain/purchase"
	"github.com/louvredev/BetelChain/store/sqlite"
)

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	return cmd
}

func runServe(cfg *config.Config) error {
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	handler := api.NewHandler(app.engine)

	scheduler := api.NewReconciliationScheduler(app.engine)
	scheduler.Schedule = cfg.Reconciliation.Schedule
	scheduler.Enabled = cfg.Reconciliation.Enabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// =============================================================================
// MIGRATE / RECONCILE / SEED
// =============================================================================

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date: %s\n", cfg.Database.Path)
			return nil
		},
	}
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.engine.Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked:  %d\n", report.Checked)
			fmt.Fprintf(out, "Repaired: %d\n", len(report.Repaired))
			for _, id := range report.Repaired {
				fmt.Fprintf(out, "  %s\n", id)
			}
			if len(report.Failed) > 0 {
				fmt.Fprintf(out, "Failed:   %d\n", len(report.Failed))
				for id, msg := range report.Failed {
					fmt.Fprintf(out, "  %s: %s\n", id, msg)
				}
				return fmt.Errorf("%d transactions could not be reconciled", len(report.Failed))
			}
			return nil
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var warehouse string

	cmd := &cobra.Command{
		Use:   "seed <scenario>",
		Short: "Load a demo scenario into a warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := api.LoadScenario(cmd.Context(), app.engine, purchase.WarehouseID(warehouse), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %s into %s: %d farmers\n", res.ScenarioID, res.WarehouseID, res.Farmers)
			for _, code := range res.Transactions {
				fmt.Fprintf(out, "  %s\n", code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&warehouse, "warehouse", "wh-demo", "warehouse id to load into")
	return cmd
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "betelchain.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

// =============================================================================
// WIRING
// =============================================================================

func (o *rootOptions) resolve() (*config.Config, error) {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	return cfg, nil
}

// app is the engine with everything it owns.
type app struct {
	store     *sqlite.Store
	engine    *purchase.Engine
	publisher events.Publisher
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	pricing, err := factory.NewPricingFactory().FromJSON(cfg.Pricing.Policy)
	if err != nil {
		store.Close()
		return nil, err
	}

	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := purchase.NewEngine(store, pricing,
		purchase.WithPublisher(publisher),
		purchase.WithPricingTimeout(cfg.Pricing.Timeout),
	)
	return &app{store: store, engine: engine, publisher: publisher}, nil
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.LogPublisher{}, nil
	}
	return events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.Topic,
		Timeout: cfg.Timeout,
	})
}

func (a *app) Close() {
	if c, ok := a.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Printf("Failed to close event publisher: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
}
