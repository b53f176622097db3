package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"legalup_payments/internal/app"
	"legalup_payments/internal/config"
	"legalup_payments/internal/services"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	rootCmd := &cobra.Command{
		Use:          "paymentsctl",
		Short:        "Operate the LegalUp payments database and reconciliation",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(orderCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB connects with only DATABASE_URL required
func openDB() (*gorm.DB, error) {
	cfg, err := config.ReadEnv()
	if err != nil {
		return nil, err
	}
	return services.InitDB(cfg.DatabaseURL, false)
}

// openApp connects everything, gateway credentials included
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			return services.RunMigrations(db)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the latest migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			return services.RollbackMigrations(db, steps)
		},
	}
	down.Flags().IntP("steps", "n", 1, "Number of migrations to revert")
	cmd.AddCommand(down)

	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over stale pending orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.ReconcileOptions()
			if cmd.Flags().Changed("stale-after") {
				opts.StaleAfter, _ = cmd.Flags().GetDuration("stale-after")
			}
			if cmd.Flags().Changed("batch-size") {
				opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
			}

			report, err := a.Reconciler.ReconcilePending(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	cmd.Flags().Duration("stale-after", 0, "Only check orders pending for longer than this")
	cmd.Flags().Int("batch-size", 0, "Maximum number of orders to check")

	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect payment orders",
	}

	get := &cobra.Command{
		Use:   "get [id-or-gateway-reference]",
		Short: "Show one order, optionally refreshed from the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			refresh, _ := cmd.Flags().GetBool("refresh")
			lookup := a.Reconciler.Lookup
			if refresh {
				lookup = a.Reconciler.Refresh
			}

			order, err := lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, order)
		},
	}
	get.Flags().BoolP("refresh", "r", false, "Ask the gateway for the latest status first")

	list := &cobra.Command{
		Use:   "list [user-id]",
		Short: "List the orders of a client or lawyer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			orders, err := services.NewGormLedger(db).ListByParticipant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, orders)
		},
	}

	cmd.AddCommand(get, list)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
