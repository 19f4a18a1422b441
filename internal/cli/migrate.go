package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/migrator/internal/control"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/mode"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending migrations once as a user-triggered run",
	RunE:  runMigrate,
}

var (
	forceMigrate    bool
	overrideMode    bool
	assumeConfirmed bool
)

func init() {
	migrateCmd.Flags().BoolVar(&forceMigrate, "force", false, "run even when nothing is pending")
	migrateCmd.Flags().BoolVar(&overrideMode, "override", false, "bypass the current mode and run manually")
	migrateCmd.Flags().BoolVar(&assumeConfirmed, "yes", false, "confirm hybrid mode runs")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()

	opts := control.Options{}
	if assumeConfirmed {
		opts.Confirm = func(context.Context, domain.ExecutionContext) (bool, error) { return true, nil }
	}
	app, err := control.New(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	var results []domain.MigrationResult
	if overrideMode {
		results, err = app.MigrateOverride(ctx, forceMigrate)
	} else {
		results, err = app.Migrate(ctx, forceMigrate)
	}
	if errors.Is(err, mode.ErrNotPermitted) {
		return fmt.Errorf("mode %s does not allow user-triggered runs, use --override or switch modes: %w",
			app.Modes.CurrentMode(), err)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "UNIT\tMIGRATED\tSKIPPED\tFAILED\tROLLED BACK\tDURATION")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\t%s\n",
			r.Unit, r.Migrated, r.Skipped, r.Failed, r.RolledBack, r.Duration)
	}
	_ = w.Flush()

	summary := app.Monitor.GetSummary()
	fmt.Printf("\nProcessed %d items in %s (%.1f items/s, %d errors)\n",
		summary.ItemsProcessed, summary.Duration, summary.AverageThroughput, summary.ErrorCount)
	for _, b := range summary.Bottlenecks {
		fmt.Printf("Bottleneck: %s took %.0f%% of the run\n", b.Phase, b.Share*100)
	}
	return nil
}
