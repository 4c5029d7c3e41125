package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"aichemist/internal/remote"
	"aichemist/internal/security"
)

// State is the reconciliation state the activation service exposes to the
// feature gate and the UI.
type State string

const (
	StateNoLicense    State = "no_license"
	StateOnlineValid  State = "online_valid"
	StateOfflineValid State = "offline_valid"
	StateGrace        State = "grace"
	StateInvalid      State = "invalid"
	StateRevoked      State = "revoked"
)

// Usable reports whether the state grants access to licensed converters
func (s State) Usable() bool {
	switch s {
	case StateOnlineValid, StateOfflineValid, StateGrace:
		return true
	}
	return false
}

// ServiceConfig carries the reconciliation policy knobs
type ServiceConfig struct {
	ValidationTTL      time.Duration
	OfflineGracePeriod time.Duration
	RemoteTimeout      time.Duration
}

// Service owns the local/remote license reconciliation state machine:
// activation, TTL-cached revalidation, offline grace, revocation and
// deactivation. All converters observe it only through the feature gate.
//
// Conversion workers read the last known cached state; revalidation runs off
// the critical path, so a stale-but-recent answer is always available without
// a network round trip.
type Service struct {
	verifier *Verifier
	store    *Store
	backend  remote.Backend
	queue    *UploadQueue
	fp       *security.FingerprintManager
	cfg      ServiceConfig
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu     sync.RWMutex
	record *Record
	state  State

	revalidate singleflight.Group
	retrying   bool

	onChange func(State, *Record)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewService wires the activation service. backend and queue are injected so
// tests can substitute them.
func NewService(verifier *Verifier, store *Store, backend remote.Backend, queue *UploadQueue,
	fp *security.FingerprintManager, cfg ServiceConfig, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ValidationTTL <= 0 {
		cfg.ValidationTTL = 24 * time.Hour
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 5 * time.Second
	}
	return &Service{
		verifier: verifier,
		store:    store,
		backend:  backend,
		queue:    queue,
		fp:       fp,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "activation_service")),
		metrics:  metrics,
		now:      time.Now,
		state:    StateNoLicense,
		stopCh:   make(chan struct{}),
	}
}

// SetClock overrides the time source; used by tests exercising TTL and grace
// boundaries.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetOnStateChange registers a hook invoked after every state transition,
// outside the service lock. The notification hub uses it to push updates to
// the UI shell.
func (s *Service) SetOnStateChange(fn func(State, *Record)) { s.onChange = fn }

// Snapshot returns the last known state and record without touching the
// network. Stale reads are acceptable; license state changes are rare
// relative to a conversion's lifetime.
func (s *Service) Snapshot() (State, *Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return s.state, nil
	}
	rec := *s.record
	return s.state, &rec
}

// Activate verifies and activates a license key. Signature failures are
// terminal and never retried. When the backend is unreachable the license is
// persisted as offline-valid and the remote activation is retried in the
// background.
func (s *Service) Activate(ctx context.Context, key string) error {
	payload, err := s.verifier.Verify(key)
	if err != nil {
		s.metrics.RecordActivation(ctx, "verify_failed")
		s.logger.WarnContext(ctx, "license activation rejected by verifier",
			slog.String("license_key", MaskKey(key)),
			slog.String("code", CodeOf(err)))
		return err
	}

	now := s.now()
	if payload.Expired(now) {
		s.metrics.RecordActivation(ctx, "expired")
		return ErrLicenseExpired
	}

	machineID, err := s.fp.MachineIDHash()
	if err != nil {
		return NewError(KindInternal, CodeInternal, "failed to fingerprint this machine", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	result, err := s.backend.Activate(callCtx, key, machineID)
	switch {
	case err == nil:
		record := &Record{
			LicenseKey:      key,
			Payload:         *payload,
			Status:          StatusActive,
			LastValidatedAt: now,
			OnlineConfirmed: true,
		}
		if err := s.store.Save(record); err != nil {
			return NewError(KindInternal, CodeInternal, "failed to persist license", err)
		}
		s.setState(StateOnlineValid, record)
		s.metrics.RecordActivation(ctx, "online")
		s.logger.InfoContext(ctx, "license activated online",
			slog.String("license_key", MaskKey(key)),
			slog.String("license_type", string(payload.LicenseType)),
			slog.Int("active_count", result.ActiveCount),
			slog.Int("max_activations", result.MaxActivations))
		return nil

	case errors.Is(err, remote.ErrLimitReached):
		// The backend is authoritative for the seat count; nothing is
		// persisted locally on a limit rejection.
		s.metrics.RecordActivation(ctx, "limit_reached")
		return ErrActivationLimitReached

	case errors.Is(err, remote.ErrNotFound):
		s.metrics.RecordActivation(ctx, "not_found")
		return ErrLicenseNotFound

	case remote.IsNetwork(err):
		record := &Record{
			LicenseKey:      key,
			Payload:         *payload,
			Status:          StatusActive,
			LastValidatedAt: now,
			OnlineConfirmed: false,
		}
		if serr := s.store.Save(record); serr != nil {
			return NewError(KindInternal, CodeInternal, "failed to persist license", serr)
		}
		s.setState(StateOfflineValid, record)
		s.metrics.RecordActivation(ctx, "offline")
		s.logger.WarnContext(ctx, "licensing server unreachable, activated offline",
			slog.String("license_key", MaskKey(key)),
			slog.String("error", err.Error()))
		s.scheduleActivationRetry(key, machineID)
		return nil

	default:
		s.metrics.RecordActivation(ctx, "rejected")
		return NewError(KindAuthorization, CodeInternal, "activation rejected by licensing server", err)
	}
}

// scheduleActivationRetry retries a remote activation that was performed
// offline, so the seat is eventually claimed on the backend. At most one
// retry loop runs at a time.
func (s *Service) scheduleActivationRetry(key, machineID string) {
	s.mu.Lock()
	if s.retrying {
		s.mu.Unlock()
		return
	}
	s.retrying = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.retrying = false
			s.mu.Unlock()
		}()
		backoff := 30 * time.Second
		for {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoff):
			}

			// Stop retrying if the license changed or went away meanwhile.
			s.mu.RLock()
			current := s.record
			s.mu.RUnlock()
			if current == nil || current.LicenseKey != key || current.OnlineConfirmed {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
			_, err := s.backend.Activate(ctx, key, machineID)
			cancel()

			switch {
			case err == nil:
				s.mu.Lock()
				if s.record != nil && s.record.LicenseKey == key {
					s.record.OnlineConfirmed = true
					s.record.Status = StatusActive
					s.record.LastValidatedAt = s.now()
					rec := *s.record
					s.mu.Unlock()
					if serr := s.store.Save(&rec); serr != nil {
						s.logger.Error("failed to persist confirmed activation",
							slog.String("error", serr.Error()))
					}
					s.setState(StateOnlineValid, &rec)
				} else {
					s.mu.Unlock()
				}
				s.logger.Info("offline activation confirmed by licensing server",
					slog.String("license_key", MaskKey(key)))
				return

			case errors.Is(err, remote.ErrLimitReached):
				// Remote truth wins: the seat was never ours to claim.
				s.logger.Warn("offline-activated license is over its seat limit, invalidating",
					slog.String("license_key", MaskKey(key)))
				s.markStatus(StatusInvalid, StateInvalid)
				return

			case remote.IsNetwork(err):
				backoff *= 2
				if backoff > 15*time.Minute {
					backoff = 15 * time.Minute
				}

			default:
				s.logger.Warn("offline activation retry rejected, invalidating",
					slog.String("license_key", MaskKey(key)),
					slog.String("error", err.Error()))
				s.markStatus(StatusInvalid, StateInvalid)
				return
			}
		}
	}()
}

// ValidateOnStartup loads the cached record and reconciles it with the
// remote authority according to the TTL/grace policy.
func (s *Service) ValidateOnStartup(ctx context.Context) (State, error) {
	start := s.now()
	record, err := s.store.Load()
	if err != nil {
		return StateNoLicense, NewError(KindInternal, CodeInternal, "failed to load license record", err)
	}
	if record == nil {
		s.setState(StateNoLicense, nil)
		s.metrics.RecordValidation(ctx, StateNoLicense, s.now().Sub(start))
		return StateNoLicense, nil
	}

	// The record is only as trustworthy as the key inside it: re-verify the
	// signature and use the signed payload, so a hand-edited license file
	// cannot upgrade itself.
	payload, verr := s.verifier.Verify(record.LicenseKey)
	if verr != nil {
		s.logger.Warn("stored license failed signature verification",
			slog.String("license_key", MaskKey(record.LicenseKey)),
			slog.String("code", CodeOf(verr)))
		record.Status = StatusInvalid
		s.persist(record)
		s.setState(StateInvalid, record)
		s.metrics.RecordValidation(ctx, StateInvalid, s.now().Sub(start))
		return StateInvalid, nil
	}
	record.Payload = *payload

	now := s.now()
	age := now.Sub(record.LastValidatedAt)

	// A validation timestamp in the future means the clock was rolled back;
	// nothing cached can be trusted, so revalidate immediately regardless of
	// TTL or grace.
	clockRollback := record.LastValidatedAt.After(now)
	if clockRollback {
		s.logger.Warn("clock rollback detected, forcing revalidation",
			slog.Time("last_validated_at", record.LastValidatedAt),
			slog.Time("now", now))
	}

	if !clockRollback && age < s.cfg.ValidationTTL {
		state := s.stateForStatus(record.Status, record.OnlineConfirmed)
		s.setState(state, record)
		if state == StateOfflineValid {
			// The seat claim from the offline activation did not survive the
			// last shutdown; pick the retry back up.
			if machineID, ferr := s.fp.MachineIDHash(); ferr == nil {
				s.scheduleActivationRetry(record.LicenseKey, machineID)
			}
		}
		s.metrics.RecordValidation(ctx, state, s.now().Sub(start))
		return state, nil
	}

	state := s.revalidateRecord(ctx, record, age, clockRollback)
	s.metrics.RecordValidation(ctx, state, s.now().Sub(start))
	return state, nil
}

// revalidateRecord performs the remote status check and applies the
// grace-period policy on network failure.
func (s *Service) revalidateRecord(ctx context.Context, record *Record, age time.Duration, clockRollback bool) State {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	status, err := s.backend.CheckStatus(callCtx, record.LicenseID())
	if err != nil {
		if remote.IsNetwork(err) {
			// Grace covers a previously-valid license through transient
			// outages; a rolled-back clock gets no such benefit.
			if !clockRollback && age < s.cfg.ValidationTTL+s.cfg.OfflineGracePeriod && record.Usable() {
				record.Status = StatusGrace
				s.persist(record)
				s.setState(StateGrace, record)
				s.logger.WarnContext(ctx, "licensing server unreachable, entering grace period",
					slog.Duration("age", age),
					slog.Duration("grace_remaining", s.cfg.ValidationTTL+s.cfg.OfflineGracePeriod-age))
				return StateGrace
			}
			record.Status = StatusInvalid
			s.persist(record)
			s.setState(StateInvalid, record)
			s.logger.WarnContext(ctx, "grace period exhausted, license invalid until revalidated")
			return StateInvalid
		}
		if errors.Is(err, remote.ErrNotFound) {
			record.Status = StatusInvalid
			s.persist(record)
			s.setState(StateInvalid, record)
			return StateInvalid
		}
		// Auth/server errors do not prove revocation; keep the cached state
		// but do not refresh the validation timestamp.
		state := s.stateForStatus(record.Status, record.OnlineConfirmed)
		s.setState(state, record)
		s.logger.WarnContext(ctx, "status check failed, keeping cached state",
			slog.String("error", err.Error()),
			slog.String("state", string(state)))
		return state
	}

	now := s.now()
	switch status.State {
	case remote.StateActive:
		if record.Payload.Expired(now) {
			record.Status = StatusInvalid
			s.persist(record)
			s.setState(StateInvalid, record)
			return StateInvalid
		}
		if !record.OnlineConfirmed {
			return s.claimOfflineSeat(ctx, record, now)
		}
		record.Status = StatusActive
		record.LastValidatedAt = now
		s.persist(record)
		s.setState(StateOnlineValid, record)
		return StateOnlineValid

	case remote.StateRevoked:
		// Remote truth overrides the still-valid local signature. The record
		// is kept on disk to support later reactivation, but access stops now.
		record.Status = StatusRevoked
		record.LastValidatedAt = now
		s.persist(record)
		s.setState(StateRevoked, record)
		s.logger.WarnContext(ctx, "license revoked by licensing server",
			slog.String("license_key", MaskKey(record.LicenseKey)))
		return StateRevoked

	default: // suspended, expired, not_found
		record.Status = StatusInvalid
		record.LastValidatedAt = now
		s.persist(record)
		s.setState(StateInvalid, record)
		return StateInvalid
	}
}

// claimOfflineSeat finishes an activation that was performed without network
// access. The backend never saw this machine, so the seat must actually be
// claimed before the license can count as online-confirmed; a license row
// that reads active is not enough.
func (s *Service) claimOfflineSeat(ctx context.Context, record *Record, now time.Time) State {
	machineID, err := s.fp.MachineIDHash()
	if err != nil {
		s.setState(StateOfflineValid, record)
		return StateOfflineValid
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	_, err = s.backend.Activate(callCtx, record.LicenseKey, machineID)
	switch {
	case err == nil:
		record.Status = StatusActive
		record.OnlineConfirmed = true
		record.LastValidatedAt = now
		s.persist(record)
		s.setState(StateOnlineValid, record)
		s.logger.InfoContext(ctx, "offline activation confirmed by licensing server",
			slog.String("license_key", MaskKey(record.LicenseKey)))
		return StateOnlineValid

	case errors.Is(err, remote.ErrLimitReached):
		// Remote truth wins: the seat was never ours to claim.
		record.Status = StatusInvalid
		record.LastValidatedAt = now
		s.persist(record)
		s.setState(StateInvalid, record)
		s.logger.WarnContext(ctx, "offline-activated license is over its seat limit, invalidating",
			slog.String("license_key", MaskKey(record.LicenseKey)))
		return StateInvalid

	case errors.Is(err, remote.ErrNotFound):
		record.Status = StatusInvalid
		record.LastValidatedAt = now
		s.persist(record)
		s.setState(StateInvalid, record)
		return StateInvalid

	default:
		// Transient failure. The confirmation is not refreshed; the retry
		// loop keeps trying to claim the seat in the background.
		s.setState(StateOfflineValid, record)
		s.scheduleActivationRetry(record.LicenseKey, machineID)
		return StateOfflineValid
	}
}

// Deactivate releases this machine's seat. The local record is cleared
// unconditionally so the user is never locked in while offline; a failed
// remote call is queued durably for retry.
func (s *Service) Deactivate(ctx context.Context) error {
	s.mu.RLock()
	record := s.record
	s.mu.RUnlock()
	if record == nil {
		loaded, err := s.store.Load()
		if err != nil || loaded == nil {
			return ErrNotActivated
		}
		if _, verr := s.verifier.Verify(loaded.LicenseKey); verr != nil {
			// A record that fails verification never held a seat; clear it
			// without bothering the backend.
			if cerr := s.store.Clear(); cerr != nil {
				return NewError(KindInternal, CodeInternal, "failed to clear license record", cerr)
			}
			s.setState(StateNoLicense, nil)
			return nil
		}
		record = loaded
	}

	machineID, fperr := s.fp.MachineIDHash()
	if fperr == nil {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		err := s.backend.Deactivate(callCtx, record.LicenseID(), machineID)
		cancel()
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			s.logger.WarnContext(ctx, "remote deactivation failed, queueing for retry",
				slog.String("license_key", MaskKey(record.LicenseKey)),
				slog.String("error", err.Error()))
			if s.queue != nil {
				s.queue.EnqueueDeactivation(record.LicenseID(), machineID)
			}
		}
	}

	if err := s.store.Clear(); err != nil {
		return NewError(KindInternal, CodeInternal, "failed to clear license record", err)
	}
	s.setState(StateNoLicense, nil)
	s.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_key", MaskKey(record.LicenseKey)))
	return nil
}

// Authorize is the licensed-path gate check: the cached state must be usable
// and the payload must cover the converter. A stale cache additionally kicks
// off a background revalidation without blocking the caller.
func (s *Service) Authorize(ctx context.Context, converter string) error {
	s.mu.RLock()
	state := s.state
	record := s.record
	s.mu.RUnlock()

	if record == nil {
		return ErrNotActivated
	}

	if age := s.now().Sub(record.LastValidatedAt); age >= s.cfg.ValidationTTL || record.LastValidatedAt.After(s.now()) {
		s.RevalidateAsync()
	}

	switch {
	case state == StateRevoked:
		return ErrLicenseRevoked
	case !state.Usable():
		return ErrLicenseExpired
	case record.Payload.Expired(s.now()):
		return ErrLicenseExpired
	case !record.Payload.Grants(converter):
		return ErrFeatureNotLicensed
	}
	return nil
}

// RevalidateAsync triggers a revalidation off the conversion critical path.
// Concurrent triggers collapse into a single remote call.
func (s *Service) RevalidateAsync() {
	go func() {
		_, _, _ = s.revalidate.Do("revalidate", func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout+time.Second)
			defer cancel()
			state, err := s.ValidateOnStartup(ctx)
			s.logger.Debug("background revalidation finished",
				slog.String("state", string(state)))
			return state, err
		})
	}()
}

// StartBackground launches the periodic TTL revalidation loop
func (s *Service) StartBackground(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.mu.RLock()
				record := s.record
				s.mu.RUnlock()
				if record == nil {
					continue
				}
				if s.now().Sub(record.LastValidatedAt) >= s.cfg.ValidationTTL {
					s.RevalidateAsync()
				}
			}
		}
	}()
}

// Stop shuts down background work and waits for it to finish
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// ReportUsage appends a licensed conversion attempt to the durable upload
// queue. It never blocks on the network.
func (s *Service) ReportUsage(converter string, fileSize int64, success bool) {
	s.mu.RLock()
	record := s.record
	s.mu.RUnlock()
	if record == nil || s.queue == nil {
		return
	}
	s.queue.EnqueueUsage(remote.UsageEvent{
		LicenseID:     record.LicenseID(),
		ConverterName: converter,
		FileSize:      fileSize,
		Success:       success,
		Timestamp:     s.now().UTC(),
	})
}

// stateForStatus maps a persisted record status to the service state
func (s *Service) stateForStatus(status Status, onlineConfirmed bool) State {
	switch status {
	case StatusActive:
		if onlineConfirmed {
			return StateOnlineValid
		}
		return StateOfflineValid
	case StatusGrace:
		return StateGrace
	case StatusRevoked:
		return StateRevoked
	default:
		return StateInvalid
	}
}

// markStatus persists a status override and transitions state
func (s *Service) markStatus(status Status, state State) {
	s.mu.Lock()
	if s.record == nil {
		s.mu.Unlock()
		return
	}
	s.record.Status = status
	rec := *s.record
	s.mu.Unlock()
	if err := s.store.Save(&rec); err != nil {
		s.logger.Error("failed to persist license status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}
	s.setState(state, &rec)
}

func (s *Service) persist(record *Record) {
	if err := s.store.Save(record); err != nil {
		s.logger.Error("failed to persist license record",
			slog.String("error", err.Error()))
	}
}

// setState updates the cached state and fires the change hook when the state
// actually moved.
func (s *Service) setState(state State, record *Record) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.record = record
	s.mu.Unlock()

	if changed && s.onChange != nil {
		var copyRec *Record
		if record != nil {
			c := *record
			copyRec = &c
		}
		s.onChange(state, copyRec)
	}
}

// Describe renders the state for logs and status payloads
func Describe(state State, record *Record) string {
	if record == nil {
		return string(state)
	}
	return fmt.Sprintf("%s (%s)", state, record.Payload.LicenseType)
}
