package trial

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichemist/internal/license"
)

func testLimits() Limits {
	return Limits{
		MaxConversions:   50,
		MaxFileSizeBytes: 10 * 1024 * 1024,
		FreeConverters:   []string{"html-pdf", "xlsx-csv"},
	}
}

func newTestTracker(t *testing.T, limits Limits) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trial.json")
	tracker, err := NewTracker(NewFileStore(path, nil), limits, nil)
	require.NoError(t, err)
	return tracker, path
}

func TestTracker_FirstRunInitializesState(t *testing.T) {
	tracker, path := newTestTracker(t, testLimits())

	assert.NotEmpty(t, tracker.InstallID())
	assert.Equal(t, 50, tracker.Remaining())

	// The ledger landed on disk with a valid signature.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, tracker.InstallID(), state.InstallID)
	assert.NotEmpty(t, state.Signature)
}

func TestTracker_InstallIDSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.json")
	first, err := NewTracker(NewFileStore(path, nil), testLimits(), nil)
	require.NoError(t, err)
	require.NoError(t, first.RecordConversion("html-pdf", 100, true))

	second, err := NewTracker(NewFileStore(path, nil), testLimits(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.InstallID(), second.InstallID())
	assert.Equal(t, 49, second.Remaining())
}

func TestTracker_ConversionCeiling(t *testing.T) {
	limits := testLimits()
	limits.MaxConversions = 3
	tracker, _ := newTestTracker(t, limits)

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.RecordConversion("html-pdf", 100, true))
	}
	assert.Zero(t, tracker.Remaining())

	err := tracker.RecordConversion("html-pdf", 100, true)
	assert.ErrorIs(t, err, &license.Error{Code: license.CodeTrialLimit})
	assert.ErrorIs(t, tracker.CanConvert("html-pdf", 100), &license.Error{Code: license.CodeTrialLimit})
}

func TestTracker_FailedConversionsCountToo(t *testing.T) {
	limits := testLimits()
	limits.MaxConversions = 2
	tracker, _ := newTestTracker(t, limits)

	require.NoError(t, tracker.RecordConversion("html-pdf", 100, false))
	assert.Equal(t, 1, tracker.Remaining())
}

func TestTracker_FileSizeCheckedBeforeQuota(t *testing.T) {
	limits := testLimits()
	limits.MaxConversions = 1
	tracker, _ := newTestTracker(t, limits)
	require.NoError(t, tracker.RecordConversion("html-pdf", 100, true))

	// Quota is exhausted, but an oversized file still reports FILE_TOO_LARGE.
	err := tracker.CanConvert("html-pdf", limits.MaxFileSizeBytes+1)
	assert.ErrorIs(t, err, &license.Error{Code: license.CodeFileTooLarge})
}

func TestTracker_FileAtLimitAllowed(t *testing.T) {
	tracker, _ := newTestTracker(t, testLimits())
	assert.NoError(t, tracker.CanConvert("html-pdf", testLimits().MaxFileSizeBytes))
}

func TestTracker_NonFreeConverterRejected(t *testing.T) {
	tracker, _ := newTestTracker(t, testLimits())

	err := tracker.CanConvert("docx-pdf", 100)
	assert.ErrorIs(t, err, &license.Error{Code: license.CodeConverterNotFree})
	err = tracker.RecordConversion("docx-pdf", 100, true)
	assert.ErrorIs(t, err, &license.Error{Code: license.CodeConverterNotFree})
	assert.Equal(t, 50, tracker.Remaining())
}

func TestTracker_ConcurrentRecordingNeverOvershoots(t *testing.T) {
	limits := testLimits()
	limits.MaxConversions = 10
	tracker, path := newTestTracker(t, limits)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.RecordConversion("html-pdf", 100, true); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load())
	assert.Zero(t, tracker.Remaining())

	// The persisted count agrees with the in-memory one.
	reloaded, err := NewTracker(NewFileStore(path, nil), limits, nil)
	require.NoError(t, err)
	assert.Zero(t, reloaded.Remaining())
}

func TestTracker_TamperedLedgerReinitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.json")
	limits := testLimits()
	tracker, err := NewTracker(NewFileStore(path, nil), limits, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.RecordConversion("html-pdf", 100, true))
	}
	originalID := tracker.InstallID()

	// Hand-edit the counter back to zero; the signature no longer matches.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(data, &state))
	state.ConversionCount = 0
	edited, err := json.Marshal(&state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, edited, 0o600))

	reloaded, err := NewTracker(NewFileStore(path, nil), limits, nil)
	require.NoError(t, err)
	assert.NotEqual(t, originalID, reloaded.InstallID(), "a tampered ledger starts a fresh install identity")
	assert.Equal(t, limits.MaxConversions, reloaded.Remaining())
}

func TestTracker_CorruptLedgerReinitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	tracker, err := NewTracker(NewFileStore(path, nil), testLimits(), nil)
	require.NoError(t, err)
	assert.Equal(t, 50, tracker.Remaining())
}

func TestTracker_DevReset(t *testing.T) {
	limits := testLimits()
	limits.MaxConversions = 2
	tracker, _ := newTestTracker(t, limits)
	require.NoError(t, tracker.RecordConversion("html-pdf", 100, true))
	require.NoError(t, tracker.RecordConversion("html-pdf", 100, true))
	require.Error(t, tracker.RecordConversion("html-pdf", 100, true))

	require.NoError(t, tracker.DevReset())
	assert.Equal(t, 2, tracker.Remaining())
}

func TestFileStore_SignatureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.json")
	store := NewFileStore(path, nil)

	state := NewState(50, 1024)
	state.ConversionCount = 7
	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 7, loaded.ConversionCount)
	assert.Equal(t, state.InstallID, loaded.InstallID)
}

func TestFileStore_LockIsExclusive(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "trial.json"), nil)

	unlock, err := store.Lock()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		second, err := store.Lock()
		assert.NoError(t, err)
		second()
		close(done)
	}()

	// The second acquisition only proceeds after the first releases.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("lock acquired while held")
	default:
	}
	unlock()
	<-done
}
