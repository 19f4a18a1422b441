package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/migrator/internal/control"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger [key=value...]",
	Short: "Emit a manual_trigger event and report how it was handled",
	RunE:  runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}

func parseEventData(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid event data %q, want key=value", arg)
		}
		data[k] = v
	}
	return data, nil
}

func runTrigger(cmd *cobra.Command, args []string) error {
	data, err := parseEventData(args)
	if err != nil {
		return err
	}

	cfg := loadConfig(cmd)
	ctx := context.Background()
	app, err := control.New(ctx, cfg, control.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	app.Dispatcher.EmitManualEvent(ctx, data)

	history := app.Dispatcher.GetEventHistory(1)
	if len(history) == 0 {
		fmt.Println("Event was dropped by its listener")
		return nil
	}
	rec := history[0]
	fmt.Printf("Result: %s (triggered: %t)\n", rec.Result, rec.Triggered)
	if rec.Reason != "" {
		fmt.Printf("Reason: %s\n", rec.Reason)
	}
	if rec.Error != "" {
		fmt.Printf("Error: %s\n", rec.Error)
	}
	return nil
}
