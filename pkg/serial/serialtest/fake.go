// Package serialtest provides scripted serial ports for tests
package serialtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"padlink/pkg/serial"
)

// ErrUnplugged is what a FakePort returns from Read after Unplug
var ErrUnplugged = errors.New("device unplugged")

// FakePort is an in-memory serial.Port. Data fed with Feed is returned by
// Read; when nothing is pending Read blocks for the read timeout and
// returns 0, nil like a real port.
type FakePort struct {
	Name string

	mu        sync.Mutex
	pending   []byte
	timeout   time.Duration
	closed    bool
	unplugged bool
	reads     int
	wake      chan struct{}
}

// NewFakePort creates a fake port with a short read timeout
func NewFakePort(name string) *FakePort {
	return &FakePort{
		Name:    name,
		timeout: 10 * time.Millisecond,
		wake:    make(chan struct{}, 1),
	}
}

// Feed queues raw bytes for Read
func (p *FakePort) Feed(data string) {
	p.mu.Lock()
	p.pending = append(p.pending, data...)
	p.mu.Unlock()
	p.poke()
}

// FeedLines queues each line followed by a newline
func (p *FakePort) FeedLines(lines ...string) {
	for _, l := range lines {
		p.Feed(l + "\n")
	}
}

// Unplug makes every later Read fail
func (p *FakePort) Unplug() {
	p.mu.Lock()
	p.unplugged = true
	p.mu.Unlock()
	p.poke()
}

// Read implements serial.Port
func (p *FakePort) Read(buffer []byte) (int, error) {
	p.mu.Lock()
	p.reads++
	if err := p.errLocked(); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(buffer, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	select {
	case <-p.wake:
	case <-time.After(timeout):
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errLocked(); err != nil {
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(buffer, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	return 0, nil
}

// Close implements serial.Port
func (p *FakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.poke()
	return nil
}

// SetReadTimeout implements serial.Port
func (p *FakePort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	p.timeout = timeout
	p.mu.Unlock()
	return nil
}

// reopen clears the closed flag so a probed port can be opened again.
// An unplugged port stays unplugged.
func (p *FakePort) reopen() {
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()
}

// Closed reports whether Close was called
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Reads returns how many times Read was called
func (p *FakePort) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *FakePort) errLocked() error {
	if p.closed {
		return serial.NewSerialError("read", p.Name, errors.New("port closed"))
	}
	if p.unplugged {
		return serial.NewSerialError("read", p.Name, ErrUnplugged)
	}
	return nil
}

func (p *FakePort) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Bus maps port names to fake ports and records open attempts. Its Open
// method satisfies serial.OpenFunc.
type Bus struct {
	mu       sync.Mutex
	ports    map[string]*FakePort
	failures map[string]error
	opened   []string
	order    []string
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		ports:    make(map[string]*FakePort),
		failures: make(map[string]error),
	}
}

// Add registers a fake port under its name and returns it
func (b *Bus) Add(name string) *FakePort {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := NewFakePort(name)
	b.ports[name] = p
	b.order = append(b.order, name)
	return p
}

// Fail makes opening name return err
func (b *Bus) Fail(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[name] = err
	b.order = append(b.order, name)
}

// Names returns every registered port in registration order
func (b *Bus) Names() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...), nil
}

// Opened returns the ports opened so far, in order
func (b *Bus) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

// Open implements serial.OpenFunc
func (b *Bus) Open(cfg serial.SerialConfig) (serial.Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opened = append(b.opened, cfg.Port)
	if err, ok := b.failures[cfg.Port]; ok {
		return nil, serial.NewSerialError("open", cfg.Port, err)
	}
	p, ok := b.ports[cfg.Port]
	if !ok {
		return nil, serial.NewSerialError("open", cfg.Port, fmt.Errorf("no such device"))
	}
	p.reopen()
	if cfg.ReadTimeout > 0 {
		p.SetReadTimeout(cfg.ReadTimeout)
	}
	return p, nil
}
