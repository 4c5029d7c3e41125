package license

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichemist/internal/remote"
)

func newTestQueue(t *testing.T, backend remote.Backend) (*UploadQueue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q, err := NewUploadQueue(path, backend, time.Hour, time.Hour, nil)
	require.NoError(t, err)
	return q, path
}

func usageEvent(converter string) remote.UsageEvent {
	return remote.UsageEvent{
		LicenseID:     "AICHEMIST:sig:payload",
		ConverterName: converter,
		FileSize:      2048,
		Success:       true,
		Timestamp:     time.Now().UTC(),
	}
}

func TestUploadQueue_SurvivesRestart(t *testing.T) {
	backend := &mockBackend{}
	q, path := newTestQueue(t, backend)

	q.EnqueueUsage(usageEvent("html-pdf"))
	q.EnqueueUsage(usageEvent("xlsx-csv"))
	q.EnqueueDeactivation("AICHEMIST:sig:payload", "machine-hash")
	require.Equal(t, 3, q.Len())

	// A new queue over the same file sees everything the old one persisted.
	reloaded, err := NewUploadQueue(path, backend, time.Hour, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Len())
}

func TestUploadQueue_FlushDrainsEverything(t *testing.T) {
	backend := &mockBackend{}
	q, path := newTestQueue(t, backend)

	q.EnqueueUsage(usageEvent("html-pdf"))
	q.EnqueueUsage(usageEvent("xlsx-csv"))
	q.EnqueueDeactivation("AICHEMIST:sig:payload", "machine-hash")

	require.NoError(t, q.Flush(context.Background()))
	assert.Zero(t, q.Len())

	// Both usage events went up in a single batch.
	backend.mu.Lock()
	assert.Len(t, backend.usageEvents, 2)
	deactivates := backend.deactivateCalls
	backend.mu.Unlock()
	assert.Equal(t, 1, deactivates)

	// The persisted file is empty too.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestUploadQueue_FailedFlushKeepsEvents(t *testing.T) {
	backend := &mockBackend{
		logUsageFn: func([]remote.UsageEvent) error { return remote.ErrNetwork },
	}
	q, _ := newTestQueue(t, backend)

	q.EnqueueUsage(usageEvent("html-pdf"))
	require.Error(t, q.Flush(context.Background()))
	assert.Equal(t, 1, q.Len())

	// Once the backend recovers, the same event drains.
	backend.mu.Lock()
	backend.logUsageFn = nil
	backend.mu.Unlock()
	require.NoError(t, q.Flush(context.Background()))
	assert.Zero(t, q.Len())
}

func TestUploadQueue_DeactivationForUnknownLicenseIsDropped(t *testing.T) {
	backend := &mockBackend{
		deactivateFn: func(_, _ string) error { return remote.ErrNotFound },
	}
	q, _ := newTestQueue(t, backend)

	q.EnqueueDeactivation("AICHEMIST:gone", "machine-hash")
	require.NoError(t, q.Flush(context.Background()))
	assert.Zero(t, q.Len(), "a license the backend no longer knows cannot be deactivated twice")
}

func TestUploadQueue_CorruptLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	good, err := NewUploadQueue(path, &mockBackend{}, time.Hour, time.Hour, nil)
	require.NoError(t, err)
	good.EnqueueUsage(usageEvent("html-pdf"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = append(data, []byte("{not json\n")...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	reloaded, err := NewUploadQueue(path, &mockBackend{}, time.Hour, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
}

func TestUploadQueue_MissingPayloadLinesSkipped(t *testing.T) {
	// Valid JSON, valid kind, but no payload: a truncated or hand-edited
	// file must not bring down the flush worker.
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	lines := `{"id":"a","kind":"usage","enqueued_at":"2026-08-20T12:00:00Z"}
{"id":"b","kind":"deactivation","usage":null,"enqueued_at":"2026-08-20T12:00:00Z"}
{"id":"c","kind":"mystery","enqueued_at":"2026-08-20T12:00:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))

	backend := &mockBackend{}
	q, err := NewUploadQueue(path, backend, time.Hour, time.Hour, nil)
	require.NoError(t, err)
	assert.Zero(t, q.Len())

	require.NotPanics(t, func() {
		require.NoError(t, q.Flush(context.Background()))
	})
}

func TestUploadQueue_FlushEmptyIsNoop(t *testing.T) {
	backend := &mockBackend{}
	q, _ := newTestQueue(t, backend)
	require.NoError(t, q.Flush(context.Background()))
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.usageEvents)
}
