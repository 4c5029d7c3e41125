package gate

import (
	"context"
	"log/slog"
	"time"

	"aichemist/internal/license"
	"aichemist/internal/trial"
)

// Grant is the context handed back to an admitted converter; it must be
// passed to Report after the conversion executes.
type Grant struct {
	ConverterName string
	FileSize      int64
	Licensed      bool
	IssuedAt      time.Time
}

// Status is the app-facing summary consumed by the UI and the CLI
type Status struct {
	LicenseType string       `json:"license_type"`
	Activated   bool         `json:"activated"`
	State       string       `json:"state"`
	Trial       *TrialStatus `json:"trial,omitempty"`
}

// TrialStatus reports free-tier headroom
type TrialStatus struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// Gate is the single authorization checkpoint every converter passes through.
// With an activated license it delegates to the activation service; without
// one it delegates to the trial tracker. It never touches the network on the
// conversion critical path.
type Gate struct {
	service *license.Service
	trial   *trial.Tracker
	metrics *license.Metrics
	logger  *slog.Logger
}

// New creates the feature gate
func New(service *license.Service, tracker *trial.Tracker, metrics *license.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		service: service,
		trial:   tracker,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "feature_gate")),
	}
}

// Authorize decides whether the named converter may run on a file of the
// given size. A license record, even a revoked one, takes the licensed path;
// trial quota only applies while no record exists at all.
func (g *Gate) Authorize(ctx context.Context, converterName string, fileSize int64) (*Grant, error) {
	state, record := g.service.Snapshot()

	if record != nil {
		if err := g.service.Authorize(ctx, converterName); err != nil {
			g.metrics.RecordDenial(ctx, license.CodeOf(err))
			g.logger.InfoContext(ctx, "conversion denied on licensed path",
				slog.String("converter", converterName),
				slog.String("state", string(state)),
				slog.String("reason", license.CodeOf(err)))
			return nil, err
		}
		return &Grant{
			ConverterName: converterName,
			FileSize:      fileSize,
			Licensed:      true,
			IssuedAt:      time.Now(),
		}, nil
	}

	if err := g.trial.CanConvert(converterName, fileSize); err != nil {
		g.metrics.RecordDenial(ctx, license.CodeOf(err))
		g.logger.InfoContext(ctx, "conversion denied on trial path",
			slog.String("converter", converterName),
			slog.Int64("file_size", fileSize),
			slog.String("reason", license.CodeOf(err)))
		return nil, err
	}
	return &Grant{
		ConverterName: converterName,
		FileSize:      fileSize,
		Licensed:      false,
		IssuedAt:      time.Now(),
	}, nil
}

// Report feeds the conversion outcome back after execution. It must be called
// for every granted conversion, success or failure, and never blocks or fails
// the conversion itself: licensed usage goes to the durable upload queue,
// trial usage is counted atomically, and any bookkeeping error is only logged.
func (g *Gate) Report(ctx context.Context, grant *Grant, success bool) {
	if grant == nil {
		return
	}

	if grant.Licensed {
		g.service.ReportUsage(grant.ConverterName, grant.FileSize, success)
		return
	}

	if err := g.trial.RecordConversion(grant.ConverterName, grant.FileSize, success); err != nil {
		// The conversion already ran; the quota decision was made at
		// authorization time. A failure here is bookkeeping, not a denial.
		g.logger.WarnContext(ctx, "failed to record trial conversion",
			slog.String("converter", grant.ConverterName),
			slog.String("error", err.Error()))
	}
}

// Status summarizes the licensing state for the app-facing API
func (g *Gate) Status() Status {
	state, record := g.service.Snapshot()
	if record != nil {
		return Status{
			LicenseType: string(record.Payload.LicenseType),
			Activated:   state.Usable(),
			State:       string(state),
		}
	}
	return Status{
		LicenseType: string(license.TypeTrial),
		Activated:   false,
		State:       string(state),
		Trial: &TrialStatus{
			Remaining: g.trial.Remaining(),
			Limit:     g.trial.Limit(),
		},
	}
}
