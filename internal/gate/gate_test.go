package gate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichemist/internal/license"
	"aichemist/internal/remote"
	"aichemist/internal/security"
	"aichemist/internal/trial"
)

// stubBackend answers every remote call with success
type stubBackend struct {
	checkState remote.LicenseState
}

func (s *stubBackend) Activate(context.Context, string, string) (*remote.ActivationResult, error) {
	return &remote.ActivationResult{ActiveCount: 1, MaxActivations: 3}, nil
}

func (s *stubBackend) CheckStatus(context.Context, string) (*remote.StatusResult, error) {
	state := s.checkState
	if state == "" {
		state = remote.StateActive
	}
	return &remote.StatusResult{State: state, CheckedAt: time.Now()}, nil
}

func (s *stubBackend) Deactivate(context.Context, string, string) error { return nil }

func (s *stubBackend) LogUsage(context.Context, []remote.UsageEvent) error { return nil }

type gateFixture struct {
	gate    *Gate
	service *license.Service
	tracker *trial.Tracker
	queue   *license.UploadQueue
	key     string
}

func newGateFixture(t *testing.T, backend remote.Backend) *gateFixture {
	t.Helper()
	dir := t.TempDir()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	payload := license.Payload{
		Email:          "user@example.com",
		LicenseType:    license.TypeBasic,
		MaxActivations: 3,
		IssuedAt:       time.Now().UTC(),
		Features:       []string{},
	}
	canonical, err := payload.CanonicalJSON()
	require.NoError(t, err)
	key := license.Encode(ed25519.Sign(priv, canonical), canonical)

	queue, err := license.NewUploadQueue(filepath.Join(dir, "queue.jsonl"), backend, time.Hour, time.Hour, nil)
	require.NoError(t, err)

	service := license.NewService(
		license.NewVerifier(pub),
		license.NewStore(filepath.Join(dir, "license.json"), nil),
		backend, queue, security.NewFingerprintManager(),
		license.ServiceConfig{
			ValidationTTL:      24 * time.Hour,
			OfflineGracePeriod: 24 * time.Hour,
			RemoteTimeout:      time.Second,
		}, nil, nil)
	t.Cleanup(service.Stop)

	tracker, err := trial.NewTracker(trial.NewFileStore(filepath.Join(dir, "trial.json"), nil), trial.Limits{
		MaxConversions:   2,
		MaxFileSizeBytes: 1024,
		FreeConverters:   []string{"html-pdf", "xlsx-csv"},
	}, nil)
	require.NoError(t, err)

	return &gateFixture{
		gate:    New(service, tracker, nil, nil),
		service: service,
		tracker: tracker,
		queue:   queue,
		key:     key,
	}
}

func TestGate_TrialPathGrantsAndCounts(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})

	grant, err := f.gate.Authorize(context.Background(), "html-pdf", 512)
	require.NoError(t, err)
	assert.False(t, grant.Licensed)

	f.gate.Report(context.Background(), grant, true)
	assert.Equal(t, 1, f.tracker.Limit()-f.tracker.Remaining())
}

func TestGate_TrialDenials(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})

	_, err := f.gate.Authorize(context.Background(), "docx-pdf", 512)
	assert.Equal(t, license.CodeConverterNotFree, license.CodeOf(err))

	_, err = f.gate.Authorize(context.Background(), "html-pdf", 4096)
	assert.Equal(t, license.CodeFileTooLarge, license.CodeOf(err))
}

func TestGate_TrialQuotaExhaustion(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})

	for i := 0; i < 2; i++ {
		grant, err := f.gate.Authorize(context.Background(), "html-pdf", 512)
		require.NoError(t, err)
		f.gate.Report(context.Background(), grant, true)
	}

	_, err := f.gate.Authorize(context.Background(), "html-pdf", 512)
	assert.Equal(t, license.CodeTrialLimit, license.CodeOf(err))
}

func TestGate_LicensedPathBypassesTrialLimits(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})
	require.NoError(t, f.service.Activate(context.Background(), f.key))

	// File size and quota rules no longer apply; a Basic license covers
	// docx-pdf even though the free tier does not.
	grant, err := f.gate.Authorize(context.Background(), "docx-pdf", 50*1024*1024)
	require.NoError(t, err)
	assert.True(t, grant.Licensed)

	// Licensed usage is queued for upload, not counted against the trial.
	f.gate.Report(context.Background(), grant, true)
	assert.Equal(t, f.tracker.Limit(), f.tracker.Remaining())
	assert.Equal(t, 1, f.queue.Len())
}

func TestGate_LicensedDenialForUncoveredConverter(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})
	require.NoError(t, f.service.Activate(context.Background(), f.key))

	_, err := f.gate.Authorize(context.Background(), "cad-dxf", 512)
	assert.Equal(t, license.CodeFeatureNotLicensed, license.CodeOf(err))
}

func TestGate_RevokedLicenseNeverFallsBackToTrial(t *testing.T) {
	backend := &stubBackend{checkState: remote.StateRevoked}
	f := newGateFixture(t, backend)
	require.NoError(t, f.service.Activate(context.Background(), f.key))

	// Revalidation discovers the revocation.
	now := time.Now().Add(25 * time.Hour)
	f.service.SetClock(func() time.Time { return now })
	_, err := f.service.ValidateOnStartup(context.Background())
	require.NoError(t, err)

	// The free converter on a tiny file would pass the trial rules, but a
	// revoked install gets nothing.
	_, err = f.gate.Authorize(context.Background(), "html-pdf", 100)
	assert.Equal(t, license.CodeLicenseRevoked, license.CodeOf(err))
}

func TestGate_StatusTrial(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})

	status := f.gate.Status()
	assert.Equal(t, string(license.TypeTrial), status.LicenseType)
	assert.False(t, status.Activated)
	require.NotNil(t, status.Trial)
	assert.Equal(t, 2, status.Trial.Remaining)
	assert.Equal(t, 2, status.Trial.Limit)
}

func TestGate_StatusLicensed(t *testing.T) {
	f := newGateFixture(t, &stubBackend{})
	require.NoError(t, f.service.Activate(context.Background(), f.key))

	status := f.gate.Status()
	assert.Equal(t, string(license.TypeBasic), status.LicenseType)
	assert.True(t, status.Activated)
	assert.Nil(t, status.Trial)
}
