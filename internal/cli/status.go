package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/migrator/internal/control"
	"github.com/vietddude/migrator/internal/core/config"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/mode"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted mode and every mode configuration",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openModes opens the configured store and loads the mode manager from it.
func openModes(ctx context.Context, cfg *config.AppConfig) (*mode.Manager, func(), error) {
	kv, err := control.OpenKeyValue(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	closeStore := func() {
		if err := kv.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}
	modes, err := mode.NewManager(ctx, kv, nil, cfg.Migration.InitialMode)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("failed to load modes: %w", err)
	}
	return modes, closeStore, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	modes, closeStore, err := openModes(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	fmt.Printf("Current mode: %s\n\n", modes.CurrentMode())
	printConfigurations(os.Stdout, modes.CurrentMode(), modes.Configurations())
	return nil
}

func printConfigurations(out io.Writer, current domain.Mode, cfgs map[domain.Mode]domain.ModeConfiguration) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "MODE\tENABLED\tAUTO RETRY\tMAX RETRIES\tRETRY DELAY\tCONFIRM\tSCHEDULE")

	for _, m := range domain.AllModes {
		c, ok := cfgs[m]
		if !ok {
			continue
		}
		name := string(m)
		if m == current {
			name += " *"
		}
		schedule := c.ScheduleTime
		if schedule == "" {
			schedule = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%t\t%d\t%s\t%t\t%s\n",
			name, c.Enabled, c.AutoRetry, c.MaxRetries, c.RetryDelay, c.RequireConfirmation, schedule)
	}
	_ = w.Flush()
}
