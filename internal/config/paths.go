package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains the application data file locations.
// This is the single source of truth for every file the licensing engine touches.
type Paths struct {
	DataDir     string
	LicenseFile string
	TrialFile   string
	QueueFile   string
	LogsDir     string
}

// GetPaths resolves the per-user application data directory.
// On Windows this lands under %AppData%\AIChemist, on macOS under
// ~/Library/Application Support/AIChemist and on Linux under
// ~/.config/aichemist (os.UserConfigDir semantics).
func GetPaths() (*Paths, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user config dir: %w", err)
	}

	dataDir := filepath.Join(base, "AIChemist")
	return &Paths{
		DataDir:     dataDir,
		LicenseFile: filepath.Join(dataDir, "license.json"),
		TrialFile:   filepath.Join(dataDir, "trial.json"),
		QueueFile:   filepath.Join(dataDir, "upload-queue.jsonl"),
		LogsDir:     filepath.Join(dataDir, "logs"),
	}, nil
}

// EnsureDataDir creates the application data directory if missing
func (p *Paths) EnsureDataDir() error {
	return EnsureDir(p.DataDir)
}

// EnsureDir creates a directory if missing. Data files are user-private.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return nil
}
