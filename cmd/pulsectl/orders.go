package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/pulse/internal/app"
	"github.com/lalithlochan/pulse/internal/db"
)

var realmsFile string

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Order sync jobs",
}

var ordersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull changed orders from every enabled realm",
	Long: `Pull orders modified since each realm's watermark, upsert them and
enqueue a single order-process invocation. Exits non-zero when any realm
fails or the invocation cannot be enqueued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if realmsFile != "" {
			cfg.RealmsFile = realmsFile
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		database, err := db.New(ctx, cfg.Database(), logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		invoker, err := app.NewInvoker(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create invoker: %w", err)
		}
		defer invoker.Close()

		syncer, err := app.NewSyncer(cfg, app.SyncAcquire(database, logger), invoker, app.NewAlerter(ctx, cfg, logger), logger)
		if err != nil {
			return err
		}

		summary, runErr := syncer.Run(ctx)
		if summary != nil {
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		if summary.Failed() {
			return errors.New("order sync finished with realm errors")
		}
		return nil
	},
}

func init() {
	ordersSyncCmd.Flags().StringVar(&realmsFile, "realms", "", "realms file (overrides REALMS_FILE)")
	ordersCmd.AddCommand(ordersSyncCmd)
}
