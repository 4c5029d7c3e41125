package remote

import (
	"context"
	"errors"
	"time"
)

// LicenseState is the authoritative state the backend reports for a license
type LicenseState string

const (
	StateActive    LicenseState = "active"
	StateRevoked   LicenseState = "revoked"
	StateSuspended LicenseState = "suspended"
	StateExpired   LicenseState = "expired"
	StateNotFound  LicenseState = "not_found"
)

// Sentinel errors classifying backend failures. Timeouts are always reported
// as ErrNetwork so callers fall back to the grace period instead of hanging.
var (
	ErrNetwork      = errors.New("remote: licensing server unreachable")
	ErrAuth         = errors.New("remote: request rejected by licensing server")
	ErrServer       = errors.New("remote: licensing server error")
	ErrLimitReached = errors.New("remote: activation limit reached")
	ErrNotFound     = errors.New("remote: license not found")
)

// ActivationRecord mirrors the remote activations row. It is owned by the
// backend; the client only ever caches it read-only.
type ActivationRecord struct {
	LicenseID     string    `json:"license_id"`
	MachineIDHash string    `json:"machine_id_hash"`
	ActivatedAt   time.Time `json:"activated_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	Active        bool      `json:"active"`
}

// ActivationResult is the backend response to an activation request
type ActivationResult struct {
	Record         ActivationRecord `json:"record"`
	ActiveCount    int              `json:"active_count"`
	MaxActivations int              `json:"max_activations"`
}

// StatusResult is the backend response to a status check
type StatusResult struct {
	State     LicenseState `json:"state"`
	CheckedAt time.Time    `json:"checked_at"`
}

// UsageEvent is one conversion attempt reported for a licensed install
type UsageEvent struct {
	ID            string    `json:"id"`
	LicenseID     string    `json:"license_id"`
	ConverterName string    `json:"converter_name"`
	FileSize      int64     `json:"file_size"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

// Backend is the network contract against the license authority. The concrete
// implementation is injected; the activation service depends only on this
// interface, which keeps it substitutable in tests.
//
// The backend enforces the activation ceiling authoritatively: Activate must
// never report success once the count of active machine hashes for a license
// has reached that license's max_activations.
type Backend interface {
	Activate(ctx context.Context, licenseID, machineIDHash string) (*ActivationResult, error)
	CheckStatus(ctx context.Context, licenseID string) (*StatusResult, error)
	Deactivate(ctx context.Context, licenseID, machineIDHash string) error
	LogUsage(ctx context.Context, events []UsageEvent) error
}

// IsNetwork reports whether the error should be treated as a connectivity
// failure, which triggers offline activation or the grace-period fallback.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded)
}
