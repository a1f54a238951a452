package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"padlink/pkg/link"
	"padlink/pkg/probe"
	"padlink/pkg/serial"
)

var monitorPort string

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print decoded device events",
	Long: `Connect to the macropad and print every decoded message and parse error,
one per line. Nothing is injected. Useful when working on firmware.

Examples:
  padlink monitor
  padlink monitor --port COM5`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorPort, "port", "p", "", "serial port (default: discover)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "monitor", false)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := monitorPort
	if port == "" {
		port = cfg.Serial.Port
	}
	if port != "" && !serial.IsPortAvailable(port) {
		return fmt.Errorf("port %s not found, see 'padlink list'", port)
	}
	if port == "" {
		prober := probe.NewProber(cfg.Device.Signature(), cfg.Serial.ProbeTimeout.Std(), logger)
		prober.Config = cfg.SerialConfig()
		prober.Strict = cfg.Serial.StrictProbe

		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		port, err = prober.FindDevice(ctx, ports)
		if errors.Is(err, probe.ErrNotFound) {
			return fmt.Errorf("no macropad found, use --port")
		}
		if err != nil {
			return err
		}
	}

	l := link.New(link.Options{
		Serial:      cfg.SerialConfig(),
		JoinTimeout: cfg.Serial.JoinTimeout.Std(),
		Logger:      logger,
	})
	if _, err := l.Start(port); err != nil {
		if serial.IsPortBusy(err) {
			return fmt.Errorf("%s is in use by another program: %w", port, err)
		}
		return err
	}
	defer l.Stop()

	return printEvents(ctx, cmd, l)
}

// printEvents writes link events until ctx is done or the device goes away
func printEvents(ctx context.Context, cmd *cobra.Command, l *link.Link) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	events := l.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events.Ready():
			for _, ev := range events.Drain() {
				stamp := time.Now().Format("15:04:05.000")
				switch ev.Type {
				case link.EventConnected:
					fmt.Fprintf(errOut, "%s connected to %s\n", stamp, ev.Port)
				case link.EventMessage:
					fmt.Fprintf(out, "%s %s\n", stamp, ev.Message)
				case link.EventParseError:
					fmt.Fprintf(errOut, "%s parse error: %v\n", stamp, ev.Err)
				case link.EventDisconnected:
					fmt.Fprintf(errOut, "%s disconnected from %s\n", stamp, ev.Port)
					return nil
				}
			}
		}
	}
}
