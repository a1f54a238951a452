package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"padlink/pkg/config"
	"padlink/pkg/logging"
)

var (
	// Root command flags
	verbose    bool
	configPath string
	logLevel   string

	// Root command
	rootCmd = &cobra.Command{
		Use:   "padlink",
		Short: "Turn a serial macropad into keyboard shortcuts",
		Long: `padlink finds a macropad on a serial port, reads its key, encoder and
button events and plays the macros bound to them as keyboard and mouse input.`,
		Version:           "0.1.0",
		Run:               runRoot,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(bindingsCmd)
	rootCmd.AddCommand(macrosCmd)
}

// runRoot shows help when no subcommand is given
func runRoot(cmd *cobra.Command, args []string) {
	cmd.Help()
}

// loadConfig reads the config file named by --config, or the default one,
// and applies the global flags
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the command's logger. When the terminal is owned by the
// status board, logs go to a file.
func newLogger(cfg *config.Config, component string, ownsTerminal bool) *zap.Logger {
	file := cfg.Log.File
	if file == "" && ownsTerminal {
		file = filepath.Join(config.DefaultDir(), "padlink.log")
	}
	return logging.Must(cfg.Log.Level, cfg.Log.Format, file, component)
}
