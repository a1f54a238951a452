// Package link owns the connection to a macropad: it opens the port, runs
// the reader goroutine and posts decoded messages to a queue
package link

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"padlink/pkg/protocol"
	"padlink/pkg/queue"
	"padlink/pkg/serial"
)

// DefaultJoinTimeout bounds how long Stop waits for the reader goroutine
const DefaultJoinTimeout = time.Second

// EventType identifies a link notification
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventMessage
	EventParseError
)

// String returns the string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventParseError:
		return "parse error"
	default:
		return "unknown"
	}
}

// Event is one notification from the link. Session identifies the
// connection that produced it; consumers drop events from older sessions.
type Event struct {
	Session string
	Type    EventType
	Port    string
	Message protocol.Message
	Err     error
}

// Options configures a Link
type Options struct {
	// Serial holds the port settings; Port is set by Start.
	Serial serial.SerialConfig
	// Open defaults to serial.Open.
	Open        serial.OpenFunc
	JoinTimeout time.Duration
	Logger      *zap.Logger
}

// Stats counts traffic on the current connection
type Stats struct {
	Lines       int64
	ParseErrors int64
}

// Link manages at most one live connection
type Link struct {
	opts   Options
	logger *zap.Logger
	events *queue.Queue[Event]
	keys   KeyTable

	mu  sync.Mutex
	cur *connection

	connected   atomic.Bool
	lines       atomic.Int64
	parseErrors atomic.Int64
}

type connection struct {
	session string
	port    string
	handle  serial.Port
	stop    chan struct{}
	done    chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
	discOnce  sync.Once
}

// New creates a link that posts to its own event queue
func New(opts Options) *Link {
	if opts.Open == nil {
		opts.Open = serial.Open
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Serial.BaudRate == 0 {
		opts.Serial = serial.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Link{
		opts:   opts,
		logger: logger,
		events: queue.New[Event](),
	}
}

// Events returns the queue the link posts to
func (l *Link) Events() *queue.Queue[Event] {
	return l.events
}

// Keys returns the pressed-key table
func (l *Link) Keys() *KeyTable {
	return &l.keys
}

// KeyState returns a snapshot of the pressed-key table
func (l *Link) KeyState() []bool {
	return l.keys.Snapshot()
}

// Connected reports whether a connection is live
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// Stats returns counters for the current connection
func (l *Link) Stats() Stats {
	return Stats{Lines: l.lines.Load(), ParseErrors: l.parseErrors.Load()}
}

// Start connects to port, replacing any existing connection, and returns the
// new session id
func (l *Link) Start(port string) (string, error) {
	l.Stop()

	cfg := l.opts.Serial.WithPort(port)
	handle, err := l.opts.Open(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", port, err)
	}

	c := &connection{
		session: uuid.NewString(),
		port:    port,
		handle:  handle,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	l.mu.Lock()
	l.cur = c
	l.mu.Unlock()

	l.lines.Store(0)
	l.parseErrors.Store(0)
	l.connected.Store(true)

	l.logger.Info("connected", zap.String("port", port), zap.String("session", c.session))
	l.post(c, Event{Type: EventConnected, Port: port})

	go l.readLoop(c)

	return c.session, nil
}

// Stop ends the current connection. The reader is given JoinTimeout to exit
// and is abandoned after that. Calling Stop without a connection is a no-op.
func (l *Link) Stop() {
	l.mu.Lock()
	c := l.cur
	l.cur = nil
	l.mu.Unlock()

	if c == nil {
		return
	}

	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
	case <-time.After(l.opts.JoinTimeout):
		l.logger.Warn("reader did not exit in time, abandoning it",
			zap.String("port", c.port),
			zap.Duration("timeout", l.opts.JoinTimeout))
	}

	l.finish(c)
}

// finish closes the handle and posts Disconnected once per connection
func (l *Link) finish(c *connection) {
	c.closeOnce.Do(func() {
		if err := c.handle.Close(); err != nil {
			l.logger.Debug("close failed", zap.String("port", c.port), zap.Error(err))
		}
	})

	c.discOnce.Do(func() {
		l.mu.Lock()
		if l.cur == c {
			l.cur = nil
		}
		live := l.cur != nil
		l.mu.Unlock()

		if !live {
			l.connected.Store(false)
		}
		l.logger.Info("disconnected", zap.String("port", c.port), zap.String("session", c.session))
		l.post(c, Event{Type: EventDisconnected, Port: c.port})
	})
}

func (l *Link) readLoop(c *connection) {
	defer close(c.done)

	reader := serial.NewLineReader(c.handle)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		line, err := reader.ReadLine()
		if errors.Is(err, serial.ErrLineTooLong) {
			l.parseErrors.Inc()
			l.post(c, Event{Type: EventParseError, Port: c.port, Err: err})
			continue
		}
		if err != nil {
			select {
			case <-c.stop:
			default:
				l.logger.Warn("read failed", zap.String("port", c.port), zap.Error(err))
				l.finish(c)
			}
			return
		}
		if line == nil {
			continue
		}

		l.handleLine(c, line)
	}
}

// handleLine decodes one line and updates derived state. A panic here is
// reported as a parse error and the loop continues.
func (l *Link) handleLine(c *connection, line []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.parseErrors.Inc()
			l.post(c, Event{Type: EventParseError, Port: c.port, Err: fmt.Errorf("panic handling line %q: %v", line, r)})
		}
	}()

	l.lines.Inc()

	msg, err := protocol.DecodeAt(line, time.Now())
	if err != nil {
		l.parseErrors.Inc()
		l.post(c, Event{Type: EventParseError, Port: c.port, Err: err})
		return
	}

	switch m := msg.(type) {
	case protocol.Hello:
		l.keys.Resize(m.Keys)
		l.logger.Info("hello",
			zap.String("type", m.Type),
			zap.String("fw_version", m.FWVersion),
			zap.Int("keys", m.Keys))
	case protocol.KeyEvent:
		if !l.keys.Set(m.K, m.Edge == protocol.EdgeDown) {
			l.logger.Debug("key index out of range", zap.Int("k", m.K), zap.Int("keys", l.keys.Len()))
		}
	}

	l.post(c, Event{Type: EventMessage, Port: c.port, Message: msg})
}

func (l *Link) post(c *connection, ev Event) {
	ev.Session = c.session
	l.events.Push(ev)
}
