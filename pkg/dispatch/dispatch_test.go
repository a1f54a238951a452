package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padlink/pkg/protocol"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type submissions struct {
	ids    []string
	reject bool
}

func (s *submissions) Submit(id string) bool {
	if s.reject {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

type bindings map[string]string

func (b bindings) Lookup(selector string) string { return b[selector] }

type recordingObserver struct {
	keys       []string
	dispatched []string
}

func (o *recordingObserver) KeyStateChanged(ui int, pressed bool) {
	state := "up"
	if pressed {
		state = "down"
	}
	o.keys = append(o.keys, KeySelector(ui)+" "+state)
}

func (o *recordingObserver) MacroDispatched(selector, macroID string, count int) {
	o.dispatched = append(o.dispatched, selector+"="+macroID)
}

func newTestDispatcher(b bindings, opts ...Option) (*Dispatcher, *submissions, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	subs := &submissions{}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	d := New(DefaultTiming(), subs, opts...)
	d.SetBindings(b)
	return d, subs, clock
}

func key(k int, edge protocol.Edge) protocol.KeyEvent {
	return protocol.KeyEvent{K: k, Edge: edge}
}

func TestKeySelector(t *testing.T) {
	assert.Equal(t, "K1", KeySelector(1))
	assert.Equal(t, "K12", KeySelector(12))
}

func TestValidSelector(t *testing.T) {
	tests := []struct {
		selector string
		want     bool
	}{
		{"K1", true},
		{"K12", true},
		{"E0_CW", true},
		{"E0_CCW", true},
		{"E0_BTN", true},
		{"K0", false},
		{"K01", false},
		{"K-1", false},
		{"k1", false},
		{"K", false},
		{"E1_CW", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidSelector(tt.selector); got != tt.want {
			t.Errorf("ValidSelector(%q) = %v, want %v", tt.selector, got, tt.want)
		}
	}
}

func TestHandleKey_Debounce(t *testing.T) {
	d, subs, clock := newTestDispatcher(bindings{"K1": "macro_copy"})
	d.Reset(12)

	d.HandleKey(key(0, protocol.EdgeDown))
	clock.advance(50 * time.Millisecond)
	d.HandleKey(key(0, protocol.EdgeDown))
	assert.Equal(t, []string{"macro_copy"}, subs.ids, "two downs inside the cooldown dispatch once")

	d.HandleKey(key(0, protocol.EdgeUp))
	clock.advance(150 * time.Millisecond)
	d.HandleKey(key(0, protocol.EdgeDown))
	assert.Equal(t, []string{"macro_copy", "macro_copy"}, subs.ids)
}

func TestHandleKey_CooldownIsPerKey(t *testing.T) {
	d, subs, _ := newTestDispatcher(bindings{"K1": "a", "K2": "b"})
	d.Reset(4)

	d.HandleKey(key(0, protocol.EdgeDown))
	d.HandleKey(key(1, protocol.EdgeDown))
	assert.Equal(t, []string{"a", "b"}, subs.ids)
}

func TestHandleKey_PressedStateAndObserver(t *testing.T) {
	obs := &recordingObserver{}
	d, _, clock := newTestDispatcher(bindings{}, WithObserver(obs))
	d.Reset(3)

	d.HandleKey(key(2, protocol.EdgeDown))
	assert.Equal(t, []bool{false, false, true}, d.Pressed())

	// the pressed flag is set even when the cooldown suppresses dispatch
	d.HandleKey(key(2, protocol.EdgeUp))
	clock.advance(10 * time.Millisecond)
	d.HandleKey(key(2, protocol.EdgeDown))
	assert.Equal(t, []bool{false, false, true}, d.Pressed())

	d.HandleKey(key(2, protocol.EdgeUp))
	assert.Equal(t, []bool{false, false, false}, d.Pressed())
	assert.Equal(t, []string{"K3 down", "K3 up", "K3 down", "K3 up"}, obs.keys)
	assert.Empty(t, obs.dispatched, "unbound keys dispatch nothing")
}

func TestHandleKey_OutOfRangeIgnored(t *testing.T) {
	obs := &recordingObserver{}
	d, subs, _ := newTestDispatcher(bindings{"K9": "x", "K0": "y"}, WithObserver(obs))
	d.Reset(8)

	d.HandleKey(key(8, protocol.EdgeDown))
	d.HandleKey(key(-1, protocol.EdgeDown))
	assert.Empty(t, subs.ids)
	assert.Empty(t, obs.keys)
	assert.Len(t, d.Pressed(), 8)
}

func TestHandleKey_BeforeHello(t *testing.T) {
	d, subs, _ := newTestDispatcher(bindings{"K5": "x"})
	assert.Equal(t, -1, d.KeyCount())

	d.HandleKey(key(4, protocol.EdgeDown))
	assert.Equal(t, []string{"x"}, subs.ids)

	d2, subs2, _ := newTestDispatcher(bindings{"K5": "x"}, WithKeyCount(4))
	d2.HandleKey(key(4, protocol.EdgeDown))
	assert.Empty(t, subs2.ids, "profile key count bounds indices before hello")
	assert.Equal(t, 4, d2.KeyCount())
}

func TestHandleKey_TableIsBounded(t *testing.T) {
	d, subs, _ := newTestDispatcher(bindings{"K1": "x"})

	d.HandleKey(key(1_000_000_000, protocol.EdgeDown))
	d.HandleKey(key(protocol.MaxKeys, protocol.EdgeDown))
	assert.Empty(t, subs.ids)
	assert.Empty(t, d.Pressed(), "huge index must not grow the table")
	assert.Equal(t, -1, d.KeyCount())

	d.HandleKey(key(protocol.MaxKeys-1, protocol.EdgeDown))
	assert.Len(t, d.Pressed(), protocol.MaxKeys)

	d.Handle(protocol.Hello{Type: "pad", Keys: 1 << 40})
	assert.Equal(t, protocol.MaxKeys, d.KeyCount())
}

func TestHandle_HelloResets(t *testing.T) {
	d, _, _ := newTestDispatcher(bindings{})
	d.Handle(protocol.Hello{Type: "pad", Keys: 12})
	d.Handle(key(10, protocol.EdgeDown))
	assert.True(t, d.Pressed()[10])

	d.Handle(protocol.Hello{Type: "pad", Keys: 8})
	assert.Equal(t, make([]bool, 8), d.Pressed())
}

func TestHandleEncoder(t *testing.T) {
	enc := func(delta int) protocol.EncoderEvent { return protocol.EncoderEvent{ID: 0, D: delta} }

	t.Run("three single ticks outside the cooldown", func(t *testing.T) {
		d, subs, clock := newTestDispatcher(bindings{"E0_CW": "vol_up"})
		for i := 0; i < 3; i++ {
			d.HandleEncoder(enc(1))
			clock.advance(60 * time.Millisecond)
		}
		assert.Equal(t, []string{"vol_up", "vol_up", "vol_up"}, subs.ids)
	})

	t.Run("one jump fires once per step", func(t *testing.T) {
		obs := &recordingObserver{}
		d, subs, _ := newTestDispatcher(bindings{"E0_CW": "vol_up"}, WithObserver(obs))
		d.HandleEncoder(enc(3))
		assert.Equal(t, []string{"vol_up", "vol_up", "vol_up"}, subs.ids)
		assert.Equal(t, []string{"E0_CW=vol_up"}, obs.dispatched)
	})

	t.Run("ticks inside the cooldown accumulate", func(t *testing.T) {
		d, subs, clock := newTestDispatcher(bindings{"E0_CCW": "vol_down"})
		d.HandleEncoder(enc(-1))
		require.Len(t, subs.ids, 1)

		clock.advance(10 * time.Millisecond)
		d.HandleEncoder(enc(-1))
		assert.Len(t, subs.ids, 1, "inside the cooldown nothing fires")

		clock.advance(50 * time.Millisecond)
		d.HandleEncoder(enc(-1))
		assert.Equal(t, []string{"vol_down", "vol_down", "vol_down"}, subs.ids)
	})

	t.Run("zero delta is ignored", func(t *testing.T) {
		d, subs, _ := newTestDispatcher(bindings{"E0_CW": "vol_up"})
		d.HandleEncoder(enc(0))
		assert.Empty(t, subs.ids)
	})

	t.Run("steps per action keeps the remainder", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1000, 0)}
		subs := &submissions{}
		timing := DefaultTiming()
		timing.StepsPerAction = 4
		d := New(timing, subs, WithClock(clock.now))
		d.SetBindings(bindings{"E0_CW": "cw", "E0_CCW": "ccw"})

		d.HandleEncoder(enc(3))
		assert.Empty(t, subs.ids)
		clock.advance(time.Second)
		d.HandleEncoder(enc(6))
		assert.Equal(t, []string{"cw", "cw"}, subs.ids, "9 ticks make 2 actions and keep 1")

		clock.advance(time.Second)
		d.HandleEncoder(enc(-6))
		assert.Equal(t, []string{"cw", "cw", "ccw"}, subs.ids, "-5 makes 1 action and keeps -1")
	})

	t.Run("non-positive step is clamped", func(t *testing.T) {
		timing := DefaultTiming()
		timing.StepsPerAction = 0
		d := New(timing, &submissions{})
		assert.Equal(t, 1, d.Timing().StepsPerAction)
	})

	t.Run("unbound direction fires nothing", func(t *testing.T) {
		d, subs, _ := newTestDispatcher(bindings{"E0_CW": "vol_up"})
		d.HandleEncoder(enc(-2))
		assert.Empty(t, subs.ids)
	})
}

func TestHandleButton(t *testing.T) {
	d, subs, clock := newTestDispatcher(bindings{"E0_BTN": "mute"})

	d.HandleButton(protocol.ButtonEvent{ID: 0, Edge: protocol.EdgeDown})
	d.HandleButton(protocol.ButtonEvent{ID: 0, Edge: protocol.EdgeUp})
	clock.advance(100 * time.Millisecond)
	d.HandleButton(protocol.ButtonEvent{ID: 0, Edge: protocol.EdgeDown})
	assert.Equal(t, []string{"mute"}, subs.ids)

	clock.advance(100 * time.Millisecond)
	d.HandleButton(protocol.ButtonEvent{ID: 0, Edge: protocol.EdgeDown})
	assert.Equal(t, []string{"mute", "mute"}, subs.ids)
}

func TestDispatch_UnassignedSelectorSubmitsNothing(t *testing.T) {
	d, subs, _ := newTestDispatcher(bindings{"K1": "", "K2": "   "})
	d.Reset(4)

	d.HandleKey(key(0, protocol.EdgeDown))
	d.HandleKey(key(1, protocol.EdgeDown))
	d.HandleKey(key(2, protocol.EdgeDown))
	d.HandleButton(protocol.ButtonEvent{ID: 0, Edge: protocol.EdgeDown})
	assert.Empty(t, subs.ids)

	d.SetBindings(nil)
	d.HandleEncoder(protocol.EncoderEvent{D: 1})
	assert.Empty(t, subs.ids)
}

type panickingBindings struct{}

func (panickingBindings) Lookup(string) string { panic("corrupt map") }

func TestHandle_RecoversPanics(t *testing.T) {
	d, _, _ := newTestDispatcher(nil)
	d.SetBindings(panickingBindings{})
	d.Reset(1)

	assert.NotPanics(t, func() { d.Handle(key(0, protocol.EdgeDown)) })
}
