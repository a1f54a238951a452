package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// StorageVersion is written into binding files
const StorageVersion = "1.0"

// ProfileRecord is one stored profile
type ProfileRecord struct {
	Bindings  Bindings  `json:"bindings"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BindingStorage is the on-disk format of FileBindingStore
type BindingStorage struct {
	Profiles map[string]ProfileRecord `json:"profiles"`
	Version  string                   `json:"version"`
}

// FileBindingStore keeps every profile in a single JSON file. Writes go to
// a temporary file that is renamed over the original.
type FileBindingStore struct {
	mu   sync.Mutex
	path string
}

// NewFileBindingStore creates a store backed by path. The file is created on
// the first save.
func NewFileBindingStore(path string) *FileBindingStore {
	return &FileBindingStore{path: path}
}

// Path returns the backing file
func (s *FileBindingStore) Path() string {
	return s.path
}

// Load implements BindingStore
func (s *FileBindingStore) Load(profile string) (Bindings, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storage, err := s.loadStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to load bindings: %w", err)
	}

	rec, ok := storage.Profiles[profile]
	if !ok || rec.Bindings == nil {
		return Bindings{}, nil
	}
	return rec.Bindings.Clone(), nil
}

// Save implements BindingStore
func (s *FileBindingStore) Save(profile string, b Bindings) error {
	if err := validateProfile(profile); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storage, err := s.loadStorage()
	if err != nil {
		return fmt.Errorf("failed to load existing bindings: %w", err)
	}

	clean := make(Bindings, len(b))
	for sel, id := range b {
		clean.Set(sel, id)
	}
	storage.Profiles[profile] = ProfileRecord{Bindings: clean, UpdatedAt: time.Now()}

	if err := s.saveStorage(storage); err != nil {
		return fmt.Errorf("failed to save bindings: %w", err)
	}
	return nil
}

// Profiles implements BindingStore
func (s *FileBindingStore) Profiles() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage, err := s.loadStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to load bindings: %w", err)
	}

	ids := make([]string, 0, len(storage.Profiles))
	for id := range storage.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements BindingStore
func (s *FileBindingStore) Delete(profile string) error {
	if err := validateProfile(profile); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storage, err := s.loadStorage()
	if err != nil {
		return fmt.Errorf("failed to load bindings: %w", err)
	}

	if _, ok := storage.Profiles[profile]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	}
	delete(storage.Profiles, profile)

	if err := s.saveStorage(storage); err != nil {
		return fmt.Errorf("failed to save bindings after deletion: %w", err)
	}
	return nil
}

// Close implements BindingStore
func (s *FileBindingStore) Close() error {
	return nil
}

// ExportProfile writes one profile's bindings to a standalone JSON file
func (s *FileBindingStore) ExportProfile(profile, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	b, err := s.Load(profile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bindings: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write bindings file: %w", err)
	}
	return nil
}

// ImportProfile replaces profile with the bindings in a file written by
// ExportProfile
func (s *FileBindingStore) ImportProfile(profile, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read bindings file: %w", err)
	}

	var b Bindings
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to parse bindings file: %w", err)
	}

	return s.Save(profile, b)
}

// loadStorage reads the file; a missing file is empty storage
func (s *FileBindingStore) loadStorage() (BindingStorage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return BindingStorage{Profiles: make(map[string]ProfileRecord), Version: StorageVersion}, nil
		}
		return BindingStorage{}, fmt.Errorf("failed to read bindings file: %w", err)
	}

	var storage BindingStorage
	if err := json.Unmarshal(data, &storage); err != nil {
		return BindingStorage{}, fmt.Errorf("failed to parse bindings file: %w", err)
	}

	if storage.Profiles == nil {
		storage.Profiles = make(map[string]ProfileRecord)
	}
	return storage, nil
}

// saveStorage writes to a temporary file, then renames it into place
func (s *FileBindingStore) saveStorage(storage BindingStorage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create bindings directory: %w", err)
	}

	storage.Version = StorageVersion
	data, err := json.MarshalIndent(storage, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bindings: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary bindings file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary bindings file: %w", err)
	}

	return nil
}
