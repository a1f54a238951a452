package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"padlink/pkg/probe"
	"padlink/pkg/serial"
)

var (
	scanTimeout time.Duration
	scanType    string
	scanStrict  bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find the port a macropad is connected to",
	Long: `Open each serial port in turn and listen for the macropad's hello or
heartbeat. The first port that answers is printed.

Examples:
  padlink scan
  padlink scan --timeout 5s --strict`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "listen time per port (default from config)")
	scanCmd.Flags().StringVar(&scanType, "type", "", "expected hello type (default from device profile)")
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "require a hello; ignore heartbeats")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "scan", false)
	defer logger.Sync()

	timeout := cfg.Serial.ProbeTimeout.Std()
	if scanTimeout > 0 {
		timeout = scanTimeout
	}
	signature := cfg.Device.Signature()
	if scanType != "" {
		signature = scanType
	}

	prober := probe.NewProber(signature, timeout, logger)
	prober.Config = cfg.SerialConfig()
	prober.Strict = scanStrict || cfg.Serial.StrictProbe

	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return fmt.Errorf("no serial ports found")
	}

	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Probing %d port(s) for %q, %v each...\n", len(ports), signature, timeout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	port, err := prober.FindDevice(ctx, ports)
	if errors.Is(err, probe.ErrNotFound) {
		return fmt.Errorf("no macropad found on %d port(s)", len(ports))
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), port)
	return nil
}
