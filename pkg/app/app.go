// Package app provides the main application controller
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"padlink/pkg/config"
	"padlink/pkg/dispatch"
	"padlink/pkg/input"
	"padlink/pkg/link"
	"padlink/pkg/macro"
	"padlink/pkg/probe"
	"padlink/pkg/protocol"
	"padlink/pkg/queue"
	"padlink/pkg/serial"
)

// DefaultRescanDelay is the pause before an automatic rescan
const DefaultRescanDelay = 2 * time.Second

// scannerShutdownTimeout bounds the wait for an outstanding scan on exit
const scannerShutdownTimeout = 500 * time.Millisecond

// ErrAlreadyRunning is returned by Run when the controller is already running
var ErrAlreadyRunning = errors.New("controller is already running")

// Options wires the controller's collaborators
type Options struct {
	Config   *config.Config
	Store    config.BindingStore
	Catalog  *macro.Catalog
	Injector input.Injector
	Observer Observer
	Logger   *zap.Logger

	// Ports lists discovery candidates. Defaults to serial.ListPorts.
	Ports probe.Lister
	// Open opens a port for probing and for the link. Defaults to serial.Open.
	Open serial.OpenFunc

	// AutoScan starts discovery on Run and after a disconnect or a failed
	// scan, waiting RescanDelay between attempts.
	AutoScan    bool
	RescanDelay time.Duration
}

// Snapshot is a copy of the controller state for display and tests
type Snapshot struct {
	State    serial.ConnectionState
	Port     string
	Session  string
	Device   string
	Profile  string
	Hello    *protocol.Hello
	Bindings config.Bindings
	Scanning bool
}

type commandKind int

const (
	cmdScan commandKind = iota
	cmdConnect
	cmdDisconnect
	cmdSwitchProfile
	cmdAssign
	cmdSave
)

type command struct {
	kind  commandKind
	arg   string
	value string
}

// Controller is the single control context. Run owns the bindings, the
// dispatcher, the connection state and the active profile; every other
// goroutine reaches it through a queue.
type Controller struct {
	cfg      *config.Config
	store    config.BindingStore
	observer Observer
	logger   *zap.Logger
	opts     Options

	link       *link.Link
	scanner    *probe.Scanner
	executor   *macro.Executor
	dispatcher *dispatch.Dispatcher

	scans    *queue.Queue[probe.Event]
	commands *queue.Queue[command]
	reloads  *queue.Queue[struct{}]

	running atomic.Bool
	ctx     context.Context
	retry   *time.Timer
	// userStop suppresses the automatic rescan after Disconnect
	userStop bool

	// Written only by the control context; snapMu guards readers.
	snapMu   sync.RWMutex
	state    serial.ConnectionState
	port     string
	session  string
	device   config.DeviceProfile
	profile  string
	hello    *protocol.Hello
	bindings config.Bindings
}

// NewController creates a controller. The executor, link and scanner are
// built from opts.Config.
func NewController(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("binding store cannot be nil")
	}
	if opts.Catalog == nil {
		opts.Catalog = macro.DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Injector == nil {
		opts.Injector = input.NewLoggingRecorder(opts.Logger.Named("injector"))
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Ports == nil {
		opts.Ports = serial.ListPorts
	}
	if opts.Open == nil {
		opts.Open = serial.Open
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = DefaultRescanDelay
	}

	cfg := opts.Config
	c := &Controller{
		cfg:      cfg,
		store:    opts.Store,
		observer: opts.Observer,
		logger:   opts.Logger,
		opts:     opts,
		scans:    queue.New[probe.Event](),
		commands: queue.New[command](),
		reloads:  queue.New[struct{}](),
		profile:  config.ProfileID(cfg.Bindings.Profile),
		bindings: config.Bindings{},
	}

	c.link = link.New(link.Options{
		Serial:      cfg.SerialConfig(),
		Open:        opts.Open,
		JoinTimeout: cfg.Serial.JoinTimeout.Std(),
		Logger:      opts.Logger.Named("link"),
	})

	prober := probe.NewProber(cfg.Device.Signature(), cfg.Serial.ProbeTimeout.Std(), opts.Logger.Named("probe"))
	prober.Open = opts.Open
	prober.Config = cfg.SerialConfig()
	prober.Strict = cfg.Serial.StrictProbe
	c.scanner = probe.NewScanner(prober, opts.Ports, func(ev probe.Event) { c.scans.Push(ev) }, opts.Logger.Named("scanner"))

	c.executor = macro.NewExecutor(opts.Catalog, opts.Injector, cfg.Executor.Workers, opts.Logger.Named("executor"))

	keys := 0
	if dev, ok := cfg.Device.DefaultProfile(); ok {
		c.device = dev
		keys = dev.KeyCount()
	}
	c.dispatcher = dispatch.New(cfg.Timing(), c.executor,
		dispatch.WithLogger(opts.Logger.Named("dispatch")),
		dispatch.WithObserver(opts.Observer),
		dispatch.WithKeyCount(keys))
	c.dispatcher.SetBindings(c.bindings)

	return c, nil
}

// Catalog returns the macro catalog
func (c *Controller) Catalog() *macro.Catalog {
	return c.executor.Catalog()
}

// Executor returns the macro executor
func (c *Controller) Executor() *macro.Executor {
	return c.executor
}

// Link returns the serial link
func (c *Controller) Link() *link.Link {
	return c.link
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	s := Snapshot{
		State:    c.state,
		Port:     c.port,
		Session:  c.session,
		Device:   c.device.ID,
		Profile:  c.profile,
		Bindings: c.bindings.Clone(),
		Scanning: c.scanner.Busy(),
	}
	if c.hello != nil {
		h := *c.hello
		s.Hello = &h
	}
	return s
}

// Scan requests device discovery. A scan already in progress is left alone.
func (c *Controller) Scan() bool {
	return c.commands.Push(command{kind: cmdScan})
}

// Connect requests a connection to port, skipping discovery
func (c *Controller) Connect(port string) bool {
	return c.commands.Push(command{kind: cmdConnect, arg: port})
}

// Disconnect requests the current connection to end
func (c *Controller) Disconnect() bool {
	return c.commands.Push(command{kind: cmdDisconnect})
}

// SwitchProfile loads the bindings of another profile. name may be a
// display name; it is converted with config.ProfileID.
func (c *Controller) SwitchProfile(name string) bool {
	return c.commands.Push(command{kind: cmdSwitchProfile, arg: name})
}

// Assign binds selector to a macro id in the active profile. An empty id
// clears the binding. The change is kept in memory until Save.
func (c *Controller) Assign(selector, macroID string) bool {
	return c.commands.Push(command{kind: cmdAssign, arg: selector, value: macroID})
}

// Save writes the active profile's bindings to the store
func (c *Controller) Save() bool {
	return c.commands.Push(command{kind: cmdSave})
}

// Run processes events until ctx is cancelled, then shuts everything down.
// It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx

	c.loadBindings()

	watcher := c.startWatcher()

	switch {
	case c.cfg.Serial.Port != "":
		c.connect(c.cfg.Serial.Port)
	case c.opts.AutoScan:
		c.scan()
	default:
		c.setState(serial.StateIdle)
	}

	var watchErrs <-chan error
	if watcher != nil {
		watchErrs = watcher.Errors()
	}

	events := c.link.Events()
	for {
		select {
		case <-ctx.Done():
			c.shutdown(watcher)
			return nil

		case err := <-watchErrs:
			c.handleWatchError(err)

		case <-events.Ready():
			for _, ev := range events.Drain() {
				c.handleLinkEvent(ev)
			}

		case <-c.scans.Ready():
			for _, ev := range c.scans.Drain() {
				c.handleScanEvent(ev)
			}

		case <-c.commands.Ready():
			for _, cmd := range c.commands.Drain() {
				c.handleCommand(cmd)
			}

		case <-c.reloads.Ready():
			if len(c.reloads.Drain()) > 0 {
				c.logger.Info("bindings file changed, reloading", zap.String("profile", c.profile))
				c.loadBindings()
			}
		}
	}
}

func (c *Controller) handleWatchError(err error) {
	c.logger.Warn("bindings watcher error", zap.Error(err))
	c.observer.Status("bindings watch error")
}

// startWatcher watches a JSON binding file for outside edits
func (c *Controller) startWatcher() *config.FileWatcher {
	if !c.cfg.Bindings.Watch {
		return nil
	}
	fs, ok := c.store.(*config.FileBindingStore)
	if !ok {
		return nil
	}

	w, err := config.WatchFile(fs.Path(), func() { c.reloads.Push(struct{}{}) })
	if err != nil {
		c.logger.Warn("cannot watch bindings file", zap.String("path", fs.Path()), zap.Error(err))
		return nil
	}
	return w
}

// shutdown stops the link (bounded), the executor (non-blocking), the
// scanner and the watcher, in that order
func (c *Controller) shutdown(watcher *config.FileWatcher) {
	c.logger.Info("shutting down")

	if c.retry != nil {
		c.retry.Stop()
	}

	c.setState(serial.StateDisconnecting)
	c.link.Stop()
	c.link.Events().Close()

	if dropped := c.executor.Shutdown(); dropped > 0 {
		c.logger.Info("dropped pending macros", zap.Int("count", dropped))
	}

	c.scanner.Shutdown(scannerShutdownTimeout)
	c.scans.Close()
	c.commands.Close()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			c.logger.Debug("watcher close failed", zap.Error(err))
		}
	}
	c.reloads.Close()

	c.updateSnapshot(func() {
		c.session = ""
		c.hello = nil
	})
	c.setState(serial.StateIdle)
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdScan:
		c.scan()

	case cmdConnect:
		c.connect(cmd.arg)

	case cmdDisconnect:
		if c.session == "" {
			return
		}
		c.userStop = true
		c.setState(serial.StateDisconnecting)
		c.link.Stop()

	case cmdSwitchProfile:
		id := config.ProfileID(cmd.arg)
		c.updateSnapshot(func() { c.profile = id })
		c.loadBindings()
		c.observer.Status(fmt.Sprintf("profile %s", id))

	case cmdAssign:
		if cmd.value != "" {
			if _, ok := c.Catalog().Lookup(cmd.value); !ok {
				c.logger.Warn("assign rejected: unknown macro",
					zap.String("selector", cmd.arg), zap.String("macro", cmd.value))
				c.observer.Status(fmt.Sprintf("unknown macro %s", cmd.value))
				return
			}
		}
		b := c.bindings.Clone()
		b.Set(cmd.arg, cmd.value)
		c.setBindings(b)

	case cmdSave:
		if err := c.store.Save(c.profile, c.bindings); err != nil {
			c.logger.Error("failed to save bindings", zap.String("profile", c.profile), zap.Error(err))
			c.observer.Status("save failed")
			return
		}
		c.logger.Info("bindings saved", zap.String("profile", c.profile), zap.Int("count", len(c.bindings)))
		c.observer.Status(fmt.Sprintf("saved %s", c.profile))
	}
}

func (c *Controller) scan() {
	if c.session != "" {
		c.logger.Debug("scan ignored while connected")
		return
	}
	c.scanner.Scan(c.ctx)
}

func (c *Controller) connect(port string) {
	c.userStop = false
	session, err := c.link.Start(port)
	if err != nil {
		c.logger.Warn("connect failed", zap.String("port", port), zap.Error(err))
		if serial.IsPortBusy(err) {
			c.observer.Status(fmt.Sprintf("%s is in use by another program", port))
		} else {
			c.observer.Status(fmt.Sprintf("cannot open %s", port))
		}
		c.updateSnapshot(func() {
			c.session = ""
			c.port = ""
		})
		c.setState(serial.StateIdle)
		c.scheduleRescan()
		return
	}

	c.updateSnapshot(func() {
		c.session = session
		c.port = port
		c.hello = nil
	})
}

func (c *Controller) handleScanEvent(ev probe.Event) {
	// a connection started while the scan ran supersedes it; the scan
	// is left to finish but its result is ignored
	if c.session != "" {
		c.logger.Debug("ignoring superseded scan", zap.String("port", ev.Port))
		return
	}

	switch ev.Type {
	case probe.ScanStarted:
		c.setState(serial.StateScanning)

	case probe.ScanFinished:
		switch ev.Outcome {
		case probe.OutcomeFound:
			c.connect(ev.Port)
		case probe.OutcomeNotFound:
			c.observer.Status("no macropad found")
			c.setState(serial.StateIdle)
			c.scheduleRescan()
		default:
			c.logger.Warn("scan failed", zap.Error(ev.Err))
			c.observer.Status("scan failed")
			c.setState(serial.StateIdle)
			c.scheduleRescan()
		}
	}
}

func (c *Controller) handleLinkEvent(ev link.Event) {
	if ev.Session != c.session {
		c.logger.Debug("dropping event from stale session",
			zap.String("event", ev.Type.String()), zap.String("session", ev.Session))
		return
	}

	switch ev.Type {
	case link.EventConnected:
		c.setState(serial.StateConnected)

	case link.EventDisconnected:
		c.updateSnapshot(func() {
			c.session = ""
			c.hello = nil
		})
		c.setState(serial.StateIdle)
		if !c.userStop {
			c.scheduleRescan()
		}
		c.userStop = false

	case link.EventParseError:
		c.logger.Debug("parse error", zap.String("port", ev.Port), zap.Error(ev.Err))

	case link.EventMessage:
		c.handleMessage(ev.Message)
	}
}

func (c *Controller) handleMessage(msg protocol.Message) {
	hello, isHello := msg.(protocol.Hello)

	c.dispatcher.Handle(msg)

	if !isHello {
		return
	}

	dev, ok := c.cfg.Device.MatchProfile(hello.Type)
	if !ok {
		dev, _ = c.cfg.Device.DefaultProfile()
	}
	c.updateSnapshot(func() {
		c.hello = &hello
		c.device = dev
	})

	// every hello starts from the stored bindings
	c.loadBindings()
	c.setState(serial.StateConnected)
}

// loadBindings replaces the in-memory map with the stored one. A store
// error leaves the previous map in place.
func (c *Controller) loadBindings() {
	b, err := c.store.Load(c.profile)
	if err != nil {
		c.logger.Error("failed to load bindings", zap.String("profile", c.profile), zap.Error(err))
		c.observer.Status("cannot load bindings")
		return
	}
	c.setBindings(b)
}

func (c *Controller) setBindings(b config.Bindings) {
	c.updateSnapshot(func() { c.bindings = b })
	c.dispatcher.SetBindings(b)
	c.observer.BindingsChanged(c.profile, b.Clone())
}

func (c *Controller) scheduleRescan() {
	if !c.opts.AutoScan || c.ctx == nil || c.ctx.Err() != nil {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(c.opts.RescanDelay, func() { c.Scan() })
}

func (c *Controller) setState(state serial.ConnectionState) {
	var port string
	var hello *protocol.Hello
	c.updateSnapshot(func() {
		c.state = state
		port = c.port
		if c.hello != nil {
			h := *c.hello
			hello = &h
		}
	})
	c.observer.ConnectionChanged(state, port, hello)
}

func (c *Controller) updateSnapshot(fn func()) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	fn()
}
