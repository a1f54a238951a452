package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padlink/pkg/serial/serialtest"
)

const testTimeout = 150 * time.Millisecond

func newTestProber(bus *serialtest.Bus) *Prober {
	p := NewProber(DefaultSignature, testTimeout, nil)
	p.Open = bus.Open
	p.Config.ReadTimeout = 10 * time.Millisecond
	return p
}

func TestFindDevice_SecondOfThreeMatches(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Add("/dev/ttyS0").FeedLines("garbage", `{"t":"log","msg":"boot"}`)
	bus.Add("/dev/ttyACM0").FeedLines(`{"t":"hello","type":"pico-macropad-backend","keys":12}`)
	bus.Add("/dev/ttyACM1").FeedLines(`{"t":"hello","type":"pico-macropad-backend","keys":12}`)

	port, err := newTestProber(bus).FindDevice(context.Background(), []string{"/dev/ttyS0", "/dev/ttyACM0", "/dev/ttyACM1"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)
	assert.Equal(t, []string{"/dev/ttyS0", "/dev/ttyACM0"}, bus.Opened())
}

func TestFindDevice_NoneMatch(t *testing.T) {
	bus := serialtest.NewBus()
	names := []string{"/dev/ttyS0", "/dev/ttyS1", "/dev/ttyS2"}
	for _, n := range names {
		bus.Add(n).FeedLines("not json")
	}

	start := time.Now()
	_, err := newTestProber(bus).FindDevice(context.Background(), names)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.GreaterOrEqual(t, elapsed, 3*testTimeout)
	assert.Less(t, elapsed, 3*testTimeout+time.Second)
}

func TestFindDevice_MismatchedHelloAbandonsEarly(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Add("/dev/ttyACM0").FeedLines(`{"t":"hello","type":"someone-elses-board"}`)

	p := newTestProber(bus)
	p.Timeout = 5 * time.Second

	start := time.Now()
	_, err := p.FindDevice(context.Background(), []string{"/dev/ttyACM0"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFindDevice_Heartbeat(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
		lines  []string
		want   bool
	}{
		{name: "lenient accepts heartbeat", strict: false, lines: []string{`{"t":"hb","ts":1.0}`}, want: true},
		{name: "strict needs hello", strict: true, lines: []string{`{"t":"hb","ts":1.0}`}, want: false},
		{name: "strict with hello after heartbeat", strict: true, lines: []string{`{"t":"hb"}`, `{"t":"hello","type":"pico-macropad-backend"}`}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := serialtest.NewBus()
			bus.Add("/dev/ttyACM0").FeedLines(tt.lines...)

			p := newTestProber(bus)
			p.Strict = tt.strict

			port, err := p.FindDevice(context.Background(), []string{"/dev/ttyACM0"})
			if tt.want {
				require.NoError(t, err)
				assert.Equal(t, "/dev/ttyACM0", port)
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		})
	}
}

func TestFindDevice_SkipsPortsThatFail(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Fail("/dev/ttyS0", errors.New("permission denied"))
	unplugged := bus.Add("/dev/ttyUSB0")
	unplugged.Unplug()
	good := bus.Add("/dev/ttyACM0")
	good.FeedLines(`{"t":"hello","type":"pico-macropad-backend"}`)

	port, err := newTestProber(bus).FindDevice(context.Background(), []string{"/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyACM0"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)
	assert.True(t, good.Closed(), "probe must release the port it matched")
}

func TestFindDevice_EmptySignatureAcceptsAnyHello(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Add("/dev/ttyACM0").FeedLines(`{"t":"hello","type":"custom-pad"}`)

	p := newTestProber(bus)
	p.Signature = ""

	port, err := p.FindDevice(context.Background(), []string{"/dev/ttyACM0"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)
}

func TestFindDevice_ContextCancelled(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Add("/dev/ttyS0")

	p := newTestProber(bus)
	p.Timeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.FindDevice(ctx, []string{"/dev/ttyS0"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{done: make(chan struct{}, 4)}
}

func (l *eventLog) notify(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if ev.Type == ScanFinished {
		l.done <- struct{}{}
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish")
	}
}

func TestScanner_Found(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Add("/dev/ttyACM0").FeedLines(`{"t":"hello","type":"pico-macropad-backend"}`)

	log := newEventLog()
	s := NewScanner(newTestProber(bus), bus.Names, log.notify, nil)

	require.True(t, s.Scan(context.Background()))
	log.wait(t)

	events := log.all()
	require.Len(t, events, 2)
	assert.Equal(t, ScanStarted, events[0].Type)
	assert.Equal(t, Event{Type: ScanFinished, Outcome: OutcomeFound, Port: "/dev/ttyACM0"}, events[1])
	assert.False(t, s.Busy())
}

func TestScanner_RejectsConcurrentScan(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Add("/dev/ttyS0")

	log := newEventLog()
	s := NewScanner(newTestProber(bus), bus.Names, log.notify, nil)

	require.True(t, s.Scan(context.Background()))
	assert.True(t, s.Busy())
	assert.False(t, s.Scan(context.Background()), "second scan must be rejected while busy")
	log.wait(t)

	events := log.all()
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeNotFound, events[1].Outcome)
	assert.True(t, s.Shutdown(time.Second))
}

func TestScanner_ListerErrorAndPanic(t *testing.T) {
	tests := []struct {
		name   string
		lister Lister
	}{
		{name: "lister error", lister: func() ([]string, error) { return nil, errors.New("enumeration failed") }},
		{name: "lister panic", lister: func() ([]string, error) { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := newEventLog()
			s := NewScanner(newTestProber(serialtest.NewBus()), tt.lister, log.notify, nil)

			require.True(t, s.Scan(context.Background()))
			log.wait(t)

			events := log.all()
			require.Len(t, events, 2)
			assert.Equal(t, OutcomeError, events[1].Outcome)
			assert.Error(t, events[1].Err)
			assert.False(t, s.Busy())
		})
	}
}
