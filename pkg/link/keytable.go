package link

import (
	"sync"

	"padlink/pkg/protocol"
)

// KeyTable is the pressed state of every key the device announced in its
// last hello
type KeyTable struct {
	mu     sync.RWMutex
	states []bool
}

// Resize replaces the table with n released keys, at most protocol.MaxKeys
func (t *KeyTable) Resize(n int) {
	n = min(max(n, 0), protocol.MaxKeys)
	t.mu.Lock()
	t.states = make([]bool, n)
	t.mu.Unlock()
}

// Set records the state of key k. It returns false when k is out of range.
func (t *KeyTable) Set(k int, pressed bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if k < 0 || k >= len(t.states) {
		return false
	}
	t.states[k] = pressed
	return true
}

// Pressed reports whether key k is held
func (t *KeyTable) Pressed(k int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if k < 0 || k >= len(t.states) {
		return false
	}
	return t.states[k]
}

// Len returns the number of keys
func (t *KeyTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// Snapshot returns a copy of the table
func (t *KeyTable) Snapshot() []bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]bool(nil), t.states...)
}
