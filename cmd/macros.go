package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"padlink/pkg/config"
	"padlink/pkg/input"
	"padlink/pkg/macro"
)

var (
	macrosDryRun bool
	macrosDelay  time.Duration
)

// macrosCmd represents the macros command
var macrosCmd = &cobra.Command{
	Use:   "macros",
	Short: "Show or try macros from the catalog",
}

// macrosListCmd lists the catalog
var macrosListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the macro catalog",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runMacrosList,
}

// macrosExecCmd runs one macro
var macrosExecCmd = &cobra.Command{
	Use:   "exec <macro-id>",
	Short: "Execute a single macro",
	Long: `Execute one macro from the catalog, as if its key had been pressed.

Example:
  # Give yourself two seconds to focus the target window
  padlink macros exec macro_copy --delay 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runMacrosExec,
}

func init() {
	macrosExecCmd.Flags().BoolVar(&macrosDryRun, "dry-run", false, "print the input operations instead of injecting them")
	macrosExecCmd.Flags().DurationVar(&macrosDelay, "delay", 0, "wait before executing")

	macrosCmd.AddCommand(macrosListCmd)
	macrosCmd.AddCommand(macrosExecCmd)
}

func runMacrosList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := macro.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tID\tNAME\tACTION")
	for _, cat := range catalog.Categories() {
		for _, def := range cat.Macros {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cat.Name, def.ID, def.Name, def.Describe())
		}
	}
	return w.Flush()
}

func runMacrosExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "macros", false)
	defer logger.Sync()

	catalog, err := macro.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	if _, ok := catalog.Lookup(args[0]); !ok {
		return fmt.Errorf("%w: %s", macro.ErrUnknownMacro, args[0])
	}

	var device input.Device
	recorder := input.NewRecorder(logger)
	dryRun := macrosDryRun || cfg.Executor.DryRun
	if dryRun {
		device = recorder
	} else {
		device, err = input.NewSystemInjector(config.AppName)
		if err != nil {
			return fmt.Errorf("%w (try --dry-run)", err)
		}
	}
	defer device.Close()

	if macrosDelay > 0 {
		time.Sleep(macrosDelay)
	}

	executor := macro.NewExecutor(catalog, device, 1, logger)
	defer executor.Shutdown()

	if err := executor.Execute(args[0]); err != nil {
		return err
	}

	if dryRun {
		for _, op := range recorder.Strings() {
			fmt.Fprintln(cmd.OutOrStdout(), op)
		}
	}
	return nil
}
