package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Outcome is the result of one scan
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeError
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not found"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// EventType distinguishes the two scan notifications
type EventType int

const (
	ScanStarted EventType = iota
	ScanFinished
)

// Event is posted when a scan starts and when it finishes. Port is set for
// OutcomeFound and Err for OutcomeError.
type Event struct {
	Type    EventType
	Outcome Outcome
	Port    string
	Err     error
}

// Lister enumerates candidate port names
type Lister func() ([]string, error)

// Scanner runs the prober in the background, one scan at a time
type Scanner struct {
	prober *Prober
	list   Lister
	notify func(Event)
	logger *zap.Logger

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewScanner creates a scanner. notify is called from the scanning
// goroutine and must not block.
func NewScanner(prober *Prober, list Lister, notify func(Event), logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func(Event) {}
	}
	return &Scanner{
		prober: prober,
		list:   list,
		notify: notify,
		logger: logger,
	}
}

// Busy reports whether a scan is outstanding
func (s *Scanner) Busy() bool {
	return s.busy.Load()
}

// Scan starts a background scan. It returns false without doing anything
// when a scan is already running.
func (s *Scanner) Scan(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug("scan already in progress")
		return false
	}

	s.notify(Event{Type: ScanStarted})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := s.run(ctx)
		s.busy.Store(false)
		s.notify(result)
	}()

	return true
}

// Shutdown waits up to timeout for an outstanding scan. Cancel the scan's
// context first to make it return promptly.
func (s *Scanner) Shutdown(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.logger.Warn("scan did not finish before shutdown timeout")
		return false
	}
}

func (s *Scanner) run(ctx context.Context) (ev Event) {
	ev = Event{Type: ScanFinished}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan panicked", zap.Any("panic", r))
			ev = Event{Type: ScanFinished, Outcome: OutcomeError, Err: fmt.Errorf("scan panicked: %v", r)}
		}
	}()

	candidates, err := s.list()
	if err != nil {
		ev.Outcome = OutcomeError
		ev.Err = fmt.Errorf("failed to list ports: %w", err)
		return ev
	}

	s.logger.Debug("scanning ports", zap.Strings("candidates", candidates))

	port, err := s.prober.FindDevice(ctx, candidates)
	switch {
	case err == nil:
		ev.Outcome = OutcomeFound
		ev.Port = port
	case errors.Is(err, ErrNotFound):
		ev.Outcome = OutcomeNotFound
	default:
		ev.Outcome = OutcomeError
		ev.Err = err
	}
	return ev
}
