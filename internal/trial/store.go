package trial

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// State is the persisted free-tier ledger, created once on first run.
// conversion_count is never decremented and never reset outside DevReset.
type State struct {
	InstallID        string    `json:"install_id"`
	FirstRunAt       time.Time `json:"first_run_at"`
	ConversionCount  int       `json:"conversion_count"`
	MaxConversions   int       `json:"max_conversions"`
	MaxFileSizeBytes int64     `json:"max_file_size_bytes"`
	Signature        string    `json:"signature"`
}

// StateStore abstracts the backing store so the file implementation can be
// swapped (embedded KV, SQLite) without touching the tracker.
type StateStore interface {
	// Load returns the persisted state, or nil when absent or unreadable.
	Load() (*State, error)
	// Save persists the state atomically.
	Save(*State) error
	// Lock takes the cross-process advisory lock; the returned func releases it.
	Lock() (func(), error)
}

// trialSecret seeds the integrity key for the trial ledger. It raises the bar
// against casual edits of the counter file; the remote usage log remains the
// authoritative record for licensed installs.
const trialSecret = "aichemist-trial-ledger-v1"

// integrityKey derives the HMAC key for state signatures
func integrityKey() []byte {
	return pbkdf2.Key([]byte(trialSecret), []byte("trial-state-hmac"), 4096, 32, sha256.New)
}

// sign computes the integrity signature over the counting fields
func sign(s *State) string {
	mac := hmac.New(sha256.New, integrityKey())
	fmt.Fprintf(mac, "%s|%s|%d|%d|%d",
		s.InstallID,
		s.FirstRunAt.UTC().Format(time.RFC3339),
		s.ConversionCount,
		s.MaxConversions,
		s.MaxFileSizeBytes)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature reports whether the persisted signature matches
func verifySignature(s *State) bool {
	expected := sign(s)
	return hmac.Equal([]byte(expected), []byte(s.Signature))
}

// FileStore persists the trial state as a signed JSON file with an advisory
// lock file guarding cross-process mutation.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a file-backed trial store
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger.With(slog.String("component", "trial_store"))}
}

// Load reads the state. A missing, corrupt, or tampered file returns nil so
// the tracker re-initializes; tampering is logged.
func (f *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trial state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		f.logger.Warn("trial state file is corrupt, reinitializing",
			slog.String("path", f.path),
			slog.String("error", err.Error()))
		return nil, nil
	}
	if !verifySignature(&state) {
		f.logger.Warn("trial state signature mismatch, reinitializing",
			slog.String("path", f.path),
			slog.String("install_id", state.InstallID))
		return nil, nil
	}
	return &state, nil
}

// Save signs and atomically persists the state
func (f *FileStore) Save(state *State) error {
	state.Signature = sign(state)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trial state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create trial dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".trial-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp trial file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp trial file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp trial file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace trial file: %w", err)
	}
	return nil
}

// Lock acquires the cross-process advisory lock for the trial file
func (f *FileStore) Lock() (func(), error) {
	return acquireLock(f.path+".lock", 5*time.Second)
}

// NewState initializes a fresh ledger with a random install ID
func NewState(maxConversions int, maxFileSize int64) *State {
	return &State{
		InstallID:        uuid.NewString(),
		FirstRunAt:       time.Now().UTC(),
		MaxConversions:   maxConversions,
		MaxFileSizeBytes: maxFileSize,
	}
}
