package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/migrator/internal/core/domain"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect or change the execution mode",
}

var modeShowCmd = &cobra.Command{
	Use:   "show [mode]",
	Short: "Show the configuration of a mode (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModeShow,
}

var modeSetCmd = &cobra.Command{
	Use:       "set <mode>",
	Short:     "Switch the current execution mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"auto", "manual", "hybrid", "scheduled", "silent"},
	RunE:      runModeSet,
}

var (
	scheduleTime string
	enableMode   bool
)

func init() {
	modeSetCmd.Flags().StringVar(&scheduleTime, "at", "", "schedule time (HH:MM) for the scheduled mode")
	modeSetCmd.Flags().BoolVar(&enableMode, "enable", false, "enable the mode before switching to it")

	modeCmd.AddCommand(modeShowCmd, modeSetCmd)
	rootCmd.AddCommand(modeCmd)
}

func runModeShow(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	modes, closeStore, err := openModes(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var target domain.Mode
	if len(args) == 1 {
		target = domain.Mode(args[0])
	}
	c, err := modes.GetConfiguration(target)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	if target == "" {
		target = modes.CurrentMode()
	}
	printConfigurations(os.Stdout, modes.CurrentMode(), map[domain.Mode]domain.ModeConfiguration{target: c})
	return nil
}

func runModeSet(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()
	modes, closeStore, err := openModes(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	target := domain.Mode(args[0])

	var patch domain.ModeConfigurationPatch
	if scheduleTime != "" {
		patch.ScheduleTime = &scheduleTime
	}
	if enableMode {
		patch.Enabled = &enableMode
	}
	if patch != (domain.ModeConfigurationPatch{}) {
		if err := modes.UpdateConfiguration(ctx, target, patch); err != nil {
			return fmt.Errorf("failed to update %s configuration: %w", target, err)
		}
	}

	if err := modes.SetMode(ctx, target); err != nil {
		return fmt.Errorf("failed to set mode %s: %w", target, err)
	}
	fmt.Printf("Mode set to %s\n", target)
	return nil
}
