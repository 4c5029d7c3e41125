package license

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the currently activated license record. Writes are atomic
// (write-to-temp-then-rename) so a crash mid-write never leaves a partially
// written record; a corrupt file loads as absent so the app falls back to
// trial mode instead of crashing.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a license store backed by the given file path
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger.With(slog.String("component", "license_store"))}
}

// Path returns the backing file location
func (s *Store) Path() string { return s.path }

// Load reads the persisted record. A missing or unreadable file returns
// (nil, nil); only unexpected I/O failures surface as errors.
func (s *Store) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read license file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("license file is corrupt, treating as absent",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return nil, nil
	}
	if record.LicenseKey == "" {
		s.logger.Warn("license file has no key, treating as absent",
			slog.String("path", s.path))
		return nil, nil
	}

	return &record, nil
}

// Save atomically persists the record
func (s *Store) Save(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create license dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp license file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp license file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp license file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp license file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to chmod temp license file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace license file: %w", err)
	}
	return nil
}

// Clear removes the persisted record; a missing file is not an error
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove license file: %w", err)
	}
	return nil
}
