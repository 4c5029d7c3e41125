package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend talks to the hosted licensing API over JSON. Every call runs
// under a bounded timeout; a timeout is indistinguishable from any other
// network failure for the caller.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPBackend creates the HTTP adapter. timeout bounds each request;
// zero falls back to 5s.
func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "remote_http")),
	}
}

type activateRequest struct {
	LicenseID     string `json:"license_id"`
	MachineIDHash string `json:"machine_id_hash"`
}

type deactivateRequest struct {
	LicenseID     string `json:"license_id"`
	MachineIDHash string `json:"machine_id_hash"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Activate registers this machine against the license seat count
func (b *HTTPBackend) Activate(ctx context.Context, licenseID, machineIDHash string) (*ActivationResult, error) {
	var result ActivationResult
	err := b.do(ctx, http.MethodPost, "/activations", activateRequest{
		LicenseID:     licenseID,
		MachineIDHash: machineIDHash,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckStatus asks the authority for the current license state
func (b *HTTPBackend) CheckStatus(ctx context.Context, licenseID string) (*StatusResult, error) {
	var result StatusResult
	err := b.do(ctx, http.MethodGet, "/licenses/"+licenseID+"/status", nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Deactivate releases this machine's seat
func (b *HTTPBackend) Deactivate(ctx context.Context, licenseID, machineIDHash string) error {
	return b.do(ctx, http.MethodPost, "/deactivations", deactivateRequest{
		LicenseID:     licenseID,
		MachineIDHash: machineIDHash,
	}, nil)
}

// LogUsage uploads a batch of conversion events
func (b *HTTPBackend) LogUsage(ctx context.Context, events []UsageEvent) error {
	return b.do(ctx, http.MethodPost, "/usage-logs", events, nil)
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrServer, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrServer, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.WarnContext(ctx, "licensing request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	b.logger.DebugContext(ctx, "licensing request completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrServer, err)
		}
		return nil
	}

	var apiErr errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict && apiErr.Code == "ACTIVATION_LIMIT_REACHED":
		return ErrLimitReached
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrServer, resp.StatusCode, apiErr.Message)
	}
}
