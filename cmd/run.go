package cmd

import (
	"github.com/spf13/cobra"

	"padlink/pkg/app"
)

var (
	runPort     string
	runProfile  string
	runHeadless bool
	runDryRun   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the macropad and play bound macros",
	Long: `Discover the macropad (or open --port), then turn its key, encoder and
button events into the macros bound in the active profile.

A status board shows the connection, the pressed keys and the last macro.
Keys: s scan, d disconnect, p next profile, m pick profile, q quit.

Examples:
  # Discover the pad and use the default profile
  padlink run

  # Skip discovery and use the gaming profile
  padlink run --port /dev/ttyACM0 --profile Gaming

  # Log what would be injected without touching the keyboard
  padlink run --headless --dry-run`,
	Aliases: []string{"connect"},
	Args:    cobra.NoArgs,
	RunE:    runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPort, "port", "p", "", "serial port (skips discovery)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "binding profile")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "no status board, log to the terminal")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log macros instead of injecting input")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg, "", !runHeadless)
	defer logger.Sync()

	runner, err := app.NewRunner(cfg, app.RunOptions{
		Port:     runPort,
		Profile:  runProfile,
		Headless: runHeadless,
		DryRun:   runDryRun,
	}, logger)
	if err != nil {
		return err
	}

	return runner.Run()
}
