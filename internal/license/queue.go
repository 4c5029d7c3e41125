package license

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"aichemist/internal/remote"
)

// queueEventKind discriminates the durable queue entries
type queueEventKind string

const (
	eventUsage        queueEventKind = "usage"
	eventDeactivation queueEventKind = "deactivation"
)

// queueEvent is one persisted outbound intent. Usage logs and pending
// deactivations share the queue so both survive restarts and retry with the
// same backoff policy.
type queueEvent struct {
	ID           string             `json:"id"`
	Kind         queueEventKind     `json:"kind"`
	Usage        *remote.UsageEvent `json:"usage,omitempty"`
	Deactivation *deactivationIntent `json:"deactivation,omitempty"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
}

type deactivationIntent struct {
	LicenseID     string `json:"license_id"`
	MachineIDHash string `json:"machine_id_hash"`
}

// UploadQueue is a durable, append-only JSON-lines queue drained by a
// background worker. Enqueue never blocks on the network and never fails the
// caller's conversion; a full disk is logged and dropped rather than
// propagated.
type UploadQueue struct {
	path    string
	backend remote.Backend
	logger  *slog.Logger

	flushInterval time.Duration
	maxBackoff    time.Duration

	mu      sync.Mutex
	pending []queueEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewUploadQueue creates the queue and loads any events persisted by a
// previous run.
func NewUploadQueue(path string, backend remote.Backend, flushInterval, maxBackoff time.Duration, logger *slog.Logger) (*UploadQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 15 * time.Minute
	}
	q := &UploadQueue{
		path:          path,
		backend:       backend,
		logger:        logger.With(slog.String("component", "upload_queue")),
		flushInterval: flushInterval,
		maxBackoff:    maxBackoff,
		stopCh:        make(chan struct{}),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// EnqueueUsage records a conversion attempt for a licensed install
func (q *UploadQueue) EnqueueUsage(ev remote.UsageEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	q.enqueue(queueEvent{
		ID:         ev.ID,
		Kind:       eventUsage,
		Usage:      &ev,
		EnqueuedAt: time.Now().UTC(),
	})
}

// EnqueueDeactivation records a deactivation the backend has not yet seen,
// so the remote seat count eventually becomes consistent.
func (q *UploadQueue) EnqueueDeactivation(licenseID, machineIDHash string) {
	q.enqueue(queueEvent{
		ID:   uuid.NewString(),
		Kind: eventDeactivation,
		Deactivation: &deactivationIntent{
			LicenseID:     licenseID,
			MachineIDHash: machineIDHash,
		},
		EnqueuedAt: time.Now().UTC(),
	})
}

// Len returns the number of events awaiting upload
func (q *UploadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *UploadQueue) enqueue(ev queueEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	err := q.persistLocked()
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("failed to persist upload queue",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()))
	}
}

// Start launches the background drain worker. The worker retries with
// exponential backoff after failed uploads and resets on success.
func (q *UploadQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		backoff := q.flushInterval
		timer := time.NewTimer(backoff)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-timer.C:
				if err := q.Flush(ctx); err != nil {
					backoff *= 2
					if backoff > q.maxBackoff {
						backoff = q.maxBackoff
					}
					q.logger.Warn("upload queue flush failed, backing off",
						slog.Duration("next_attempt_in", backoff),
						slog.String("error", err.Error()))
				} else {
					backoff = q.flushInterval
				}
				timer.Reset(backoff)
			}
		}
	}()
}

// Stop stops the worker and waits for it to finish
func (q *UploadQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// Flush attempts to drain the queue once. Events that upload successfully are
// removed; the rest stay for the next attempt.
func (q *UploadQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	batch := make([]queueEvent, len(q.pending))
	copy(batch, q.pending)
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var usage []remote.UsageEvent
	doneIDs := make(map[string]bool, len(batch))
	var firstErr error

	for _, ev := range batch {
		switch ev.Kind {
		case eventUsage:
			usage = append(usage, *ev.Usage)
		case eventDeactivation:
			err := q.backend.Deactivate(ctx, ev.Deactivation.LicenseID, ev.Deactivation.MachineIDHash)
			if err == nil || errors.Is(err, remote.ErrNotFound) {
				doneIDs[ev.ID] = true
			} else if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(usage) > 0 {
		if err := q.backend.LogUsage(ctx, usage); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			for _, u := range usage {
				doneIDs[u.ID] = true
			}
		}
	}

	if len(doneIDs) > 0 {
		q.mu.Lock()
		kept := q.pending[:0]
		for _, ev := range q.pending {
			if !doneIDs[ev.ID] {
				kept = append(kept, ev)
			}
		}
		q.pending = kept
		perr := q.persistLocked()
		q.mu.Unlock()
		if perr != nil && firstErr == nil {
			firstErr = perr
		}
		q.logger.Info("upload queue drained",
			slog.Int("uploaded", len(doneIDs)),
			slog.Int("remaining", q.Len()))
	}

	return firstErr
}

// load reads persisted events from the JSON-lines file, skipping corrupt lines
func (q *UploadQueue) load() error {
	file, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open upload queue: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev queueEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			q.logger.Warn("skipping corrupt upload queue entry",
				slog.String("error", err.Error()))
			continue
		}
		// A kind without its payload is a truncated or edited line; letting
		// it through would crash the flush worker.
		valid := (ev.Kind == eventUsage && ev.Usage != nil) ||
			(ev.Kind == eventDeactivation && ev.Deactivation != nil)
		if !valid {
			q.logger.Warn("skipping upload queue entry with missing payload",
				slog.String("event_id", ev.ID),
				slog.String("kind", string(ev.Kind)))
			continue
		}
		q.pending = append(q.pending, ev)
	}
	return scanner.Err()
}

// persistLocked rewrites the queue file atomically; caller holds q.mu
func (q *UploadQueue) persistLocked() error {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	for _, ev := range q.pending {
		data, err := json.Marshal(ev)
		if err != nil {
			tmp.Close()
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, q.path)
}
