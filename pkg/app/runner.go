package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"padlink/pkg/config"
	"padlink/pkg/history"
	"padlink/pkg/input"
	"padlink/pkg/macro"
	"padlink/pkg/ui"
)

// drainTimeout bounds how long Run waits for a macro that is mid-injection
const drainTimeout = 2 * time.Second

// RunOptions are the command-line overrides for a run
type RunOptions struct {
	Port     string
	Profile  string
	Headless bool
	DryRun   bool
}

// Runner wires the controller to real devices and runs it until an
// interrupt or, with the status board, until the user quits
type Runner struct {
	cfg    *config.Config
	opts   RunOptions
	logger *zap.Logger

	controller *Controller
	history    *history.Log
}

// NewRunner creates a runner. cfg is copied before opts are applied.
func NewRunner(cfg *config.Config, opts RunOptions, logger *zap.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := *cfg
	if opts.Port != "" {
		c.Serial.Port = opts.Port
	}
	if opts.Profile != "" {
		c.Bindings.Profile = opts.Profile
	}
	if opts.DryRun {
		c.Executor.DryRun = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Runner{cfg: &c, opts: opts, logger: logger}, nil
}

// Run starts the application and blocks until it's stopped
func (r *Runner) Run() error {
	store, err := config.OpenBindingStore(r.cfg)
	if err != nil {
		return fmt.Errorf("failed to open binding store: %w", err)
	}
	defer store.Close()

	catalog, err := macro.LoadCatalog(r.cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to load macro catalog: %w", err)
	}

	injector, err := r.openInjector()
	if err != nil {
		return err
	}
	defer injector.Close()

	r.history = history.NewLog(history.DefaultMaxEntries)

	var board *ui.StatusBoard
	var observer Observer = MultiObserver{NewLogObserver(r.logger.Named("events")), r.history}
	if !r.opts.Headless {
		screen, err := ui.NewScreen()
		if err != nil {
			return fmt.Errorf("failed to start status board: %w", err)
		}
		defer screen.Fini()

		keys := 0
		if dev, ok := r.cfg.Device.DefaultProfile(); ok {
			keys = dev.KeyCount()
		}
		board = ui.NewStatusBoard(screen, keys)
		board.SetHistory(r.history)
		board.SetProfiles(r.profileNames(store))
		observer = MultiObserver{board, observer}
	}

	controller, err := NewController(Options{
		Config:   r.cfg,
		Store:    store,
		Catalog:  catalog,
		Injector: injector,
		Observer: observer,
		Logger:   r.logger,
		AutoScan: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	r.controller = controller

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			r.logger.Info("received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan error, 1)
	go func() { done <- controller.Run(ctx) }()

	if board != nil {
		board.SetCommands(controller)
		if err := board.Run(ctx); err != nil {
			r.logger.Warn("status board stopped", zap.Error(err))
		}
		cancel()
	} else {
		if !r.cfg.Executor.DryRun {
			fmt.Fprintln(os.Stderr, "padlink running, press Ctrl+C to exit")
		}
	}

	runErr := <-done

	if !controller.Executor().Wait(drainTimeout) {
		r.logger.Warn("macro workers did not finish in time")
	}

	r.logSessionSummary()
	return runErr
}

// openInjector returns a recorder for dry runs and the OS injector otherwise
func (r *Runner) openInjector() (input.Device, error) {
	if r.cfg.Executor.DryRun {
		r.logger.Info("dry run: macros are logged, not injected")
		return input.NewLoggingRecorder(r.logger.Named("dry-run")), nil
	}

	device, err := input.NewSystemInjector(config.AppName)
	if err != nil {
		if errors.Is(err, input.ErrUnsupported) {
			return nil, fmt.Errorf("%w on this platform, use --dry-run", err)
		}
		return nil, fmt.Errorf("failed to create input device: %w", err)
	}
	return device, nil
}

// logSessionSummary logs the counters of the finished run
func (r *Runner) logSessionSummary() {
	if r.controller == nil {
		return
	}

	total, failed := r.controller.Executor().Executed()
	stats := r.controller.Link().Stats()
	activity := r.history.Stats()
	r.logger.Info("session summary",
		zap.Int64("macros_executed", total),
		zap.Int64("macros_failed", failed),
		zap.Int64("lines", stats.Lines),
		zap.Int64("parse_errors", stats.ParseErrors),
		zap.Int("device_events", activity.Inputs),
		zap.Int("dispatches", activity.Outputs))
}

// profileNames lists the built-in profiles, the stored ones and the
// configured one, so every profile can be picked from the board
func (r *Runner) profileNames(store config.BindingStore) []string {
	stored, err := store.Profiles()
	if err != nil {
		r.logger.Warn("failed to list stored profiles", zap.Error(err))
	}
	return config.ProfileNames(append(stored, r.cfg.Bindings.Profile)...)
}
