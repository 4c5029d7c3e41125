package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for the licensing engine
type Metrics struct {
	activations    metric.Int64Counter
	validations    metric.Int64Counter
	denials        metric.Int64Counter
	validationTime metric.Float64Histogram
	queueDepth     metric.Int64UpDownCounter
}

// NewMetrics registers the licensing instruments on the global meter
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("aichemist/license")

	activations, err := meter.Int64Counter("license.activations",
		metric.WithDescription("License activation attempts by result"))
	if err != nil {
		return nil, err
	}
	validations, err := meter.Int64Counter("license.validations",
		metric.WithDescription("License validations by resulting state"))
	if err != nil {
		return nil, err
	}
	denials, err := meter.Int64Counter("license.denials",
		metric.WithDescription("Feature gate denials by reason"))
	if err != nil {
		return nil, err
	}
	validationTime, err := meter.Float64Histogram("license.validation.duration",
		metric.WithDescription("License validation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64UpDownCounter("license.upload_queue.depth",
		metric.WithDescription("Pending usage/deactivation uploads"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		activations:    activations,
		validations:    validations,
		denials:        denials,
		validationTime: validationTime,
		queueDepth:     queueDepth,
	}, nil
}

// RecordActivation counts an activation attempt
func (m *Metrics) RecordActivation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.activations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordValidation counts a validation and its latency
func (m *Metrics) RecordValidation(ctx context.Context, state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	m.validations.Add(ctx, 1, attrs)
	m.validationTime.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDenial counts a gate denial
func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
