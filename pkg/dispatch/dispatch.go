// Package dispatch turns device events into rate-limited macro submissions
package dispatch

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"padlink/pkg/protocol"
)

// Binding selectors for the encoder channel
const (
	SelectorEncoderCW     = "E0_CW"
	SelectorEncoderCCW    = "E0_CCW"
	SelectorEncoderButton = "E0_BTN"
)

// KeySelector returns the binding selector for a one-based UI key id
func KeySelector(ui int) string {
	return "K" + strconv.Itoa(ui)
}

// ValidSelector reports whether s names a key ("K1" and up) or one of the
// encoder selectors
func ValidSelector(s string) bool {
	switch s {
	case SelectorEncoderCW, SelectorEncoderCCW, SelectorEncoderButton:
		return true
	}
	if len(s) < 2 || s[0] != 'K' || s[1] == '0' {
		return false
	}
	n, err := strconv.Atoi(s[1:])
	return err == nil && n > 0 && strconv.Itoa(n) == s[1:]
}

// Timing holds the debounce and rate-limit settings
type Timing struct {
	KeyCooldown     time.Duration
	EncoderCooldown time.Duration
	ButtonCooldown  time.Duration
	// StepsPerAction is how many encoder ticks make one action
	StepsPerAction int
}

// DefaultTiming returns 150ms for keys and buttons, 50ms for the encoder and
// one tick per action
func DefaultTiming() Timing {
	return Timing{
		KeyCooldown:     150 * time.Millisecond,
		EncoderCooldown: 50 * time.Millisecond,
		ButtonCooldown:  150 * time.Millisecond,
		StepsPerAction:  1,
	}
}

// Bindings resolves a selector to a macro id. An empty id means unbound.
type Bindings interface {
	Lookup(selector string) string
}

// Submitter accepts macro ids for execution without blocking
type Submitter interface {
	Submit(id string) bool
}

// Observer is told about state worth showing to a user
type Observer interface {
	KeyStateChanged(ui int, pressed bool)
	MacroDispatched(selector, macroID string, count int)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithObserver sets the observer
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithKeyCount bounds key indices before the first hello arrives
func WithKeyCount(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.Reset(n)
		}
	}
}

// Dispatcher applies cooldowns and encoder accumulation, looks up bindings
// and submits macros. It is not safe for concurrent use; the controller
// calls it from one goroutine.
type Dispatcher struct {
	timing    Timing
	submitter Submitter
	bindings  Bindings
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time

	pressed   []bool
	keysKnown bool
	keyFired  map[int]time.Time
	btnFired  map[int]time.Time

	encAccum int
	encFired time.Time
	encAny   bool
}

// New creates a dispatcher that submits to s
func New(timing Timing, s Submitter, opts ...Option) *Dispatcher {
	if timing.StepsPerAction <= 0 {
		timing.StepsPerAction = 1
	}

	d := &Dispatcher{
		timing:    timing,
		submitter: s,
		logger:    zap.NewNop(),
		now:       time.Now,
		keyFired:  make(map[int]time.Time),
		btnFired:  make(map[int]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetBindings replaces the binding map
func (d *Dispatcher) SetBindings(b Bindings) {
	d.bindings = b
}

// Timing returns the active timing
func (d *Dispatcher) Timing() Timing {
	return d.timing
}

// Reset resizes the pressed table to keys released keys, at most
// protocol.MaxKeys. Called on hello.
func (d *Dispatcher) Reset(keys int) {
	keys = min(max(keys, 0), protocol.MaxKeys)
	d.pressed = make([]bool, keys)
	d.keysKnown = true
	d.encAccum = 0
}

// KeyCount returns the number of keys, or -1 when it is not known yet
func (d *Dispatcher) KeyCount() int {
	if !d.keysKnown {
		return -1
	}
	return len(d.pressed)
}

// Pressed returns a copy of the pressed table indexed by wire index
func (d *Dispatcher) Pressed() []bool {
	return append([]bool(nil), d.pressed...)
}

// Handle routes msg to the matching handler. Hello and heartbeat are not
// dispatched. A panic is logged and swallowed.
func (d *Dispatcher) Handle(msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panicked", zap.Any("panic", r), zap.Stringer("message", stringer{msg}))
		}
	}()

	switch m := msg.(type) {
	case protocol.Hello:
		d.Reset(m.Keys)
	case protocol.KeyEvent:
		d.HandleKey(m)
	case protocol.EncoderEvent:
		d.HandleEncoder(m)
	case protocol.ButtonEvent:
		d.HandleButton(m)
	}
}

// HandleKey updates the pressed state and fires the key's binding on a down
// edge outside the cooldown
func (d *Dispatcher) HandleKey(ev protocol.KeyEvent) {
	if !d.track(ev.K) {
		d.logger.Debug("ignoring key outside device range", zap.Int("k", ev.K), zap.Int("keys", d.KeyCount()))
		return
	}

	ui := ev.K + 1
	down := ev.Edge == protocol.EdgeDown
	d.pressed[ev.K] = down
	if d.observer != nil {
		d.observer.KeyStateChanged(ui, down)
	}

	if !down {
		return
	}

	now := d.now()
	if last, ok := d.keyFired[ui]; ok && now.Sub(last) < d.timing.KeyCooldown {
		return
	}
	d.keyFired[ui] = now

	d.fire(KeySelector(ui), 1)
}

// HandleEncoder accumulates deltas and fires one action per StepsPerAction
// ticks, at most once per encoder cooldown
func (d *Dispatcher) HandleEncoder(ev protocol.EncoderEvent) {
	if ev.D == 0 {
		return
	}
	d.encAccum += ev.D

	now := d.now()
	if d.encAny && now.Sub(d.encFired) < d.timing.EncoderCooldown {
		return
	}

	step := d.timing.StepsPerAction
	var actions int
	var selector string

	switch {
	case d.encAccum >= step:
		actions = d.encAccum / step
		d.encAccum %= step
		selector = SelectorEncoderCW
	case d.encAccum <= -step:
		actions = -d.encAccum / step
		d.encAccum = -(-d.encAccum % step)
		selector = SelectorEncoderCCW
	default:
		return
	}

	d.encFired = now
	d.encAny = true

	d.fire(selector, actions)
}

// HandleButton fires the encoder button binding on a down edge outside the
// per-button cooldown
func (d *Dispatcher) HandleButton(ev protocol.ButtonEvent) {
	if ev.Edge != protocol.EdgeDown {
		return
	}

	now := d.now()
	if last, ok := d.btnFired[ev.ID]; ok && now.Sub(last) < d.timing.ButtonCooldown {
		return
	}
	d.btnFired[ev.ID] = now

	d.fire(SelectorEncoderButton, 1)
}

// track makes sure index k has a slot in the pressed table
func (d *Dispatcher) track(k int) bool {
	if k < 0 {
		return false
	}
	if k < len(d.pressed) {
		return true
	}
	if d.keysKnown || k >= protocol.MaxKeys {
		return false
	}
	grown := make([]bool, k+1)
	copy(grown, d.pressed)
	d.pressed = grown
	return true
}

func (d *Dispatcher) fire(selector string, count int) {
	id := d.lookup(selector)
	if id == "" {
		return
	}

	for i := 0; i < count; i++ {
		if !d.submitter.Submit(id) {
			d.logger.Warn("executor rejected macro", zap.String("selector", selector), zap.String("macro", id))
			return
		}
	}

	d.logger.Debug("dispatched", zap.String("selector", selector), zap.String("macro", id), zap.Int("count", count))
	if d.observer != nil {
		d.observer.MacroDispatched(selector, id, count)
	}
}

func (d *Dispatcher) lookup(selector string) string {
	if d.bindings == nil {
		return ""
	}
	return strings.TrimSpace(d.bindings.Lookup(selector))
}

type stringer struct {
	msg protocol.Message
}

func (s stringer) String() string {
	if s.msg == nil {
		return "<nil>"
	}
	if st, ok := s.msg.(interface{ String() string }); ok {
		return st.String()
	}
	return string(s.msg.Kind())
}
