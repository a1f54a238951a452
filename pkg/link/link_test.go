package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padlink/pkg/protocol"
	"padlink/pkg/serial"
	"padlink/pkg/serial/serialtest"
)

func newTestLink(bus *serialtest.Bus) *Link {
	cfg := serial.DefaultConfig()
	cfg.ReadTimeout = 10 * time.Millisecond
	return New(Options{Serial: cfg, Open: bus.Open, JoinTimeout: 200 * time.Millisecond})
}

// collect drains the link queue until pred is satisfied or the deadline hits
func collect(t *testing.T, l *Link, pred func([]Event) bool) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(3 * time.Second)
	for {
		events = append(events, l.Events().Drain()...)
		if pred(events) {
			return events
		}
		select {
		case <-l.Events().Ready():
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", events)
			return nil
		}
	}
}

func count(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func messages(events []Event) []protocol.Message {
	var out []protocol.Message
	for _, ev := range events {
		if ev.Type == EventMessage {
			out = append(out, ev.Message)
		}
	}
	return out
}

func TestLink_StartPostsConnectedThenMessages(t *testing.T) {
	bus := serialtest.NewBus()
	port := bus.Add("/dev/ttyACM0")
	port.FeedLines(`{"t":"hello","type":"pico-macropad-backend","keys":12}`, `{"t":"key","k":3,"edge":"down"}`)

	l := newTestLink(bus)
	session, err := l.Start("/dev/ttyACM0")
	require.NoError(t, err)
	require.NotEmpty(t, session)
	defer l.Stop()

	events := collect(t, l, func(evs []Event) bool { return len(messages(evs)) >= 2 })

	assert.Equal(t, EventConnected, events[0].Type)
	assert.Equal(t, "/dev/ttyACM0", events[0].Port)
	for _, ev := range events {
		assert.Equal(t, session, ev.Session)
	}

	msgs := messages(events)
	assert.Equal(t, protocol.KindHello, msgs[0].Kind())
	assert.Equal(t, protocol.KeyEvent{K: 3, Edge: protocol.EdgeDown}, msgs[1])
	assert.True(t, l.Connected())
	assert.True(t, l.Keys().Pressed(3))
}

func TestLink_HelloResetsKeyTable(t *testing.T) {
	bus := serialtest.NewBus()
	port := bus.Add("/dev/ttyACM0")

	l := newTestLink(bus)
	_, err := l.Start("/dev/ttyACM0")
	require.NoError(t, err)
	defer l.Stop()

	port.FeedLines(
		`{"t":"hello","type":"pad","keys":12}`,
		`{"t":"key","k":1,"edge":"down"}`,
		`{"t":"key","k":10,"edge":"down"}`,
	)
	collect(t, l, func(evs []Event) bool { return len(messages(evs)) >= 3 })

	state := l.KeyState()
	require.Len(t, state, 12)
	assert.True(t, state[1])
	assert.True(t, state[10])

	port.FeedLines(
		`{"t":"hello","type":"pad","keys":8}`,
		`{"t":"key","k":10,"edge":"down"}`,
		`{"t":"key","k":-1,"edge":"down"}`,
	)
	collect(t, l, func(evs []Event) bool { return len(messages(evs)) >= 3 })

	assert.Equal(t, make([]bool, 8), l.KeyState(), "hello must reset every flag and out-of-range keys are ignored")
}

func TestLink_ParseErrorsDoNotStopTheReader(t *testing.T) {
	bus := serialtest.NewBus()
	port := bus.Add("/dev/ttyACM0")
	port.FeedLines("{not json", `{"t":"key","k":0}`, `{"t":"hb","ts":4.5}`)

	l := newTestLink(bus)
	_, err := l.Start("/dev/ttyACM0")
	require.NoError(t, err)
	defer l.Stop()

	events := collect(t, l, func(evs []Event) bool { return len(messages(evs)) >= 1 })

	assert.Equal(t, 2, count(events, EventParseError))
	var decErr *protocol.DecodeError
	for _, ev := range events {
		if ev.Type == EventParseError {
			assert.True(t, errors.As(ev.Err, &decErr))
		}
	}
	assert.Equal(t, protocol.Heartbeat{TS: 4.5}, messages(events)[0])
	assert.Equal(t, int64(2), l.Stats().ParseErrors)
}

func TestLink_StopPostsDisconnectedOnce(t *testing.T) {
	bus := serialtest.NewBus()
	port := bus.Add("/dev/ttyACM0")

	l := newTestLink(bus)
	_, err := l.Start("/dev/ttyACM0")
	require.NoError(t, err)

	l.Stop()
	l.Stop()

	events := collect(t, l, func(evs []Event) bool { return count(evs, EventDisconnected) >= 1 })
	time.Sleep(50 * time.Millisecond)
	events = append(events, l.Events().Drain()...)

	assert.Equal(t, 1, count(events, EventDisconnected))
	assert.True(t, port.Closed())
	assert.False(t, l.Connected())
}

func TestLink_UnplugPostsDisconnectedOnce(t *testing.T) {
	bus := serialtest.NewBus()
	port := bus.Add("/dev/ttyACM0")

	l := newTestLink(bus)
	_, err := l.Start("/dev/ttyACM0")
	require.NoError(t, err)

	port.Unplug()
	events := collect(t, l, func(evs []Event) bool { return count(evs, EventDisconnected) >= 1 })

	// a later Stop finds nothing to stop
	l.Stop()
	time.Sleep(50 * time.Millisecond)
	events = append(events, l.Events().Drain()...)

	assert.Equal(t, 1, count(events, EventDisconnected))
	assert.False(t, l.Connected())
}

func TestLink_RestartUsesNewSession(t *testing.T) {
	bus := serialtest.NewBus()
	first := bus.Add("/dev/ttyACM0")
	bus.Add("/dev/ttyACM1")

	l := newTestLink(bus)
	s1, err := l.Start("/dev/ttyACM0")
	require.NoError(t, err)
	s2, err := l.Start("/dev/ttyACM1")
	require.NoError(t, err)
	defer l.Stop()

	assert.NotEqual(t, s1, s2)
	assert.True(t, first.Closed())

	events := collect(t, l, func(evs []Event) bool { return count(evs, EventConnected) >= 2 })
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, Event{Session: s1, Type: EventConnected, Port: "/dev/ttyACM0"}, events[0])
	assert.Equal(t, Event{Session: s1, Type: EventDisconnected, Port: "/dev/ttyACM0"}, events[1])
	assert.Equal(t, Event{Session: s2, Type: EventConnected, Port: "/dev/ttyACM1"}, events[2])
}

func TestLink_StartFailure(t *testing.T) {
	bus := serialtest.NewBus()
	bus.Fail("/dev/ttyACM0", errors.New("busy"))

	l := newTestLink(bus)
	_, err := l.Start("/dev/ttyACM0")

	var serr *serial.SerialError
	assert.ErrorAs(t, err, &serr)
	assert.Zero(t, l.Events().Len())
	assert.False(t, l.Connected())
}

func TestKeyTable(t *testing.T) {
	var kt KeyTable

	assert.False(t, kt.Set(0, true), "empty table accepts no keys")

	kt.Resize(3)
	assert.True(t, kt.Set(2, true))
	assert.False(t, kt.Set(3, true))
	assert.Equal(t, []bool{false, false, true}, kt.Snapshot())

	kt.Resize(-1)
	assert.Equal(t, 0, kt.Len())

	kt.Resize(1 << 40)
	assert.Equal(t, protocol.MaxKeys, kt.Len())
}
