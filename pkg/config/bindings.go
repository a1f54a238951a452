package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrProfileNotFound is returned when deleting a profile that is not stored
var ErrProfileNotFound = errors.New("profile not found")

// Bindings maps a selector ("K1", "E0_CW", "E0_BTN") to a macro id
type Bindings map[string]string

// Lookup returns the macro id bound to selector, or ""
func (b Bindings) Lookup(selector string) string {
	return strings.TrimSpace(b[selector])
}

// Set binds selector to id. An empty id removes the binding.
func (b Bindings) Set(selector, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		delete(b, selector)
		return
	}
	b[selector] = id
}

// Clone returns an independent copy
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Selectors returns the bound selectors, sorted
func (b Bindings) Selectors() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BindingStore persists one binding map per profile id
type BindingStore interface {
	// Load returns the bindings for profile; an unknown profile is empty.
	Load(profile string) (Bindings, error)
	// Save replaces the bindings for profile.
	Save(profile string, b Bindings) error
	// Profiles lists the stored profile ids, sorted.
	Profiles() ([]string, error)
	// Delete removes a profile.
	Delete(profile string) error
	Close() error
}

// OpenBindingStore opens the store selected by cfg
func OpenBindingStore(cfg *Config) (BindingStore, error) {
	path := cfg.BindingsPath()
	switch cfg.Bindings.Backend {
	case BackendSQLite:
		return OpenSQLiteBindingStore(path)
	case BackendJSON, "":
		return NewFileBindingStore(path), nil
	default:
		return nil, fmt.Errorf("unknown bindings backend: %s", cfg.Bindings.Backend)
	}
}

func validateProfile(profile string) error {
	if strings.TrimSpace(profile) == "" {
		return fmt.Errorf("profile id cannot be empty")
	}
	return nil
}
