// Package history keeps a bounded in-memory log of device activity and
// dispatched macros. Nothing is written to disk.
package history

import (
	"fmt"
	"sync"
	"time"

	"padlink/pkg/config"
	"padlink/pkg/protocol"
	"padlink/pkg/serial"
)

// DefaultMaxEntries is the log size used when none is given
const DefaultMaxEntries = 1000

// Direction tells where an entry came from
type Direction int

const (
	// DirectionInput is something the device did
	DirectionInput Direction = iota
	// DirectionOutput is input injected on the host
	DirectionOutput
	// DirectionSystem is a local event such as a profile switch
	DirectionSystem
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Arrow returns the marker drawn before an entry
func (d Direction) Arrow() string {
	switch d {
	case DirectionInput:
		return "<<"
	case DirectionOutput:
		return ">>"
	default:
		return "--"
	}
}

// Entry is a single line of the log
type Entry struct {
	Timestamp time.Time
	Direction Direction
	Text      string
}

// Validate checks if the entry is valid
func (e Entry) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	if e.Direction < DirectionInput || e.Direction > DirectionSystem {
		return fmt.Errorf("invalid direction: %d", e.Direction)
	}
	if e.Text == "" {
		return fmt.Errorf("text cannot be empty")
	}
	return nil
}

// Stats summarizes the log
type Stats struct {
	Entries     int
	Inputs      int
	Outputs     int
	Dropped     int
	MaxEntries  int
	OldestEntry *time.Time
	NewestEntry *time.Time
}

// Log is a ring buffer of entries. It also implements the controller's
// observer so it can be attached next to the status board.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int
	dropped int
	now     func() time.Time
}

// NewLog creates a log holding at most maxEntries entries
func NewLog(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		entries: make([]Entry, maxEntries),
		now:     time.Now,
	}
}

// Add appends an entry, overwriting the oldest one when full
func (l *Log) Add(direction Direction, text string) error {
	entry := Entry{Timestamp: l.now(), Direction: direction, Text: text}
	if err := entry.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	end := (l.start + l.count) % len(l.entries)
	l.entries[end] = entry
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.entries)
		l.dropped++
	}
	return nil
}

// Len returns the number of entries held
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Entries returns all entries, oldest first
func (l *Log) Entries() []Entry {
	return l.Recent(-1)
}

// Recent returns the newest n entries, oldest first. n < 0 returns all.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 || n > l.count {
		n = l.count
	}
	out := make([]Entry, n)
	first := l.start + l.count - n
	for i := range out {
		out[i] = l.entries[(first+i)%len(l.entries)]
	}
	return out
}

// Clear removes every entry
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		l.entries[i] = Entry{}
	}
	l.start, l.count, l.dropped = 0, 0, 0
}

// Stats returns counters over the held entries
func (l *Log) Stats() Stats {
	entries := l.Entries()

	l.mu.Lock()
	stats := Stats{Entries: len(entries), Dropped: l.dropped, MaxEntries: len(l.entries)}
	l.mu.Unlock()

	for _, e := range entries {
		switch e.Direction {
		case DirectionInput:
			stats.Inputs++
		case DirectionOutput:
			stats.Outputs++
		}
	}
	if len(entries) > 0 {
		oldest, newest := entries[0].Timestamp, entries[len(entries)-1].Timestamp
		stats.OldestEntry, stats.NewestEntry = &oldest, &newest
	}
	return stats
}

// KeyStateChanged records key presses. Releases are not logged.
func (l *Log) KeyStateChanged(ui int, pressed bool) {
	if pressed {
		l.Add(DirectionInput, fmt.Sprintf("K%d pressed", ui))
	}
}

// MacroDispatched records an injected macro
func (l *Log) MacroDispatched(selector, macroID string, count int) {
	text := fmt.Sprintf("%s -> %s", selector, macroID)
	if count > 1 {
		text += fmt.Sprintf(" x%d", count)
	}
	l.Add(DirectionOutput, text)
}

// ConnectionChanged records connection state changes
func (l *Log) ConnectionChanged(state serial.ConnectionState, port string, hello *protocol.Hello) {
	text := state.String()
	if port != "" {
		text += " " + port
	}
	if hello != nil {
		text += fmt.Sprintf(" (%s fw %s, %d keys)", hello.Type, hello.FWVersion, hello.Keys)
	}
	l.Add(DirectionInput, text)
}

// BindingsChanged records profile loads
func (l *Log) BindingsChanged(profile string, b config.Bindings) {
	l.Add(DirectionSystem, fmt.Sprintf("profile %s, %d bindings", profile, len(b)))
}

// Status records status messages
func (l *Log) Status(msg string) {
	if msg != "" {
		l.Add(DirectionSystem, msg)
	}
}
