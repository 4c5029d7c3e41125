package trial

import (
	"fmt"
	"log/slog"
	"sync"

	"aichemist/internal/license"
)

// Limits carries the free-tier policy. The conversion ceiling and the free
// converter set are distribution configuration, not code constants.
type Limits struct {
	MaxConversions   int
	MaxFileSizeBytes int64
	FreeConverters   []string
}

// Tracker enforces the free-tier quota: a bounded number of conversions, a
// per-file size ceiling, and a restricted converter set. The check-and-
// increment is a single atomic operation under an in-process mutex plus the
// store's advisory file lock, so racing workers can never overshoot the quota.
type Tracker struct {
	store  StateStore
	limits Limits
	logger *slog.Logger

	mu    sync.Mutex
	state *State
}

// NewTracker loads or initializes the trial ledger
func NewTracker(store StateStore, limits Limits, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:  store,
		limits: limits,
		logger: logger.With(slog.String("component", "trial_tracker")),
	}

	unlock, err := store.Lock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock trial store: %w", err)
	}
	defer unlock()

	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewState(limits.MaxConversions, limits.MaxFileSizeBytes)
		if err := store.Save(state); err != nil {
			return nil, fmt.Errorf("failed to initialize trial state: %w", err)
		}
		t.logger.Info("trial state initialized",
			slog.String("install_id", state.InstallID),
			slog.Int("max_conversions", state.MaxConversions))
	}
	t.state = state
	return t, nil
}

// InstallID returns the random identifier generated on first run
func (t *Tracker) InstallID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.InstallID
}

// Remaining returns the conversions left in the free tier
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.state.MaxConversions - t.state.ConversionCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Limit returns the configured conversion ceiling
func (t *Tracker) Limit() int { return t.limits.MaxConversions }

// CanConvert checks the free-tier rules without consuming quota. The
// file-size ceiling is checked before quota and independently of it.
func (t *Tracker) CanConvert(converterName string, fileSize int64) error {
	if !t.isFree(converterName) {
		return license.NewError(license.KindQuota, license.CodeConverterNotFree,
			fmt.Sprintf("the %s converter requires a license", converterName), nil)
	}
	if fileSize > t.limits.MaxFileSizeBytes {
		return license.NewError(license.KindQuota, license.CodeFileTooLarge,
			fmt.Sprintf("file exceeds the free-tier size limit of %d bytes", t.limits.MaxFileSizeBytes), nil)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.ConversionCount >= t.state.MaxConversions {
		return license.NewError(license.KindQuota, license.CodeTrialLimit,
			"the free conversion limit has been reached", nil)
	}
	return nil
}

// RecordConversion admits and counts one executed conversion attempt. Check
// and increment happen under the same lock: at count = max-1, exactly one of
// any number of racing workers is admitted. The count only moves for attempts
// that passed the gate and actually ran; it is never decremented.
func (t *Tracker) RecordConversion(converterName string, fileSize int64, success bool) error {
	if !t.isFree(converterName) {
		return license.NewError(license.KindQuota, license.CodeConverterNotFree,
			fmt.Sprintf("the %s converter requires a license", converterName), nil)
	}
	if fileSize > t.limits.MaxFileSizeBytes {
		return license.NewError(license.KindQuota, license.CodeFileTooLarge,
			fmt.Sprintf("file exceeds the free-tier size limit of %d bytes", t.limits.MaxFileSizeBytes), nil)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	unlock, err := t.store.Lock()
	if err != nil {
		return fmt.Errorf("failed to lock trial store: %w", err)
	}
	defer unlock()

	// Re-read under the file lock: another process may have counted since we
	// loaded. Our in-memory copy is only a floor.
	if persisted, err := t.store.Load(); err == nil && persisted != nil {
		if persisted.ConversionCount > t.state.ConversionCount {
			t.state = persisted
		}
	}

	if t.state.ConversionCount >= t.state.MaxConversions {
		return license.NewError(license.KindQuota, license.CodeTrialLimit,
			"the free conversion limit has been reached", nil)
	}

	t.state.ConversionCount++
	if err := t.store.Save(t.state); err != nil {
		t.state.ConversionCount--
		return fmt.Errorf("failed to persist trial count: %w", err)
	}

	t.logger.Info("trial conversion recorded",
		slog.String("converter", converterName),
		slog.Int64("file_size", fileSize),
		slog.Bool("success", success),
		slog.Int("count", t.state.ConversionCount),
		slog.Int("max", t.state.MaxConversions))
	return nil
}

// DevReset wipes the ledger. Development tooling only; there is deliberately
// no code path that reaches this from the app.
func (t *Tracker) DevReset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := NewState(t.limits.MaxConversions, t.limits.MaxFileSizeBytes)
	if err := t.store.Save(state); err != nil {
		return err
	}
	t.state = state
	return nil
}

func (t *Tracker) isFree(converterName string) bool {
	for _, name := range t.limits.FreeConverters {
		if name == converterName {
			return true
		}
	}
	return false
}
