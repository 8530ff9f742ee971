package license

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Validation outcome labels
const (
	OutcomeGranted = "granted"
	OutcomeBlocked = "blocked"
	OutcomeOffline = "offline"
)

// Metrics holds the OpenTelemetry counters for license and PIN activity.
// A nil *Metrics is valid and records nothing, which keeps tests and
// collaborators free of telemetry wiring.
type Metrics struct {
	validations        metric.Int64Counter
	lockoutTransitions metric.Int64Counter
	pinsIssued         metric.Int64Counter
	pinsVerified       metric.Int64Counter
}

// NewMetrics registers the counters on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	validations, err := meter.Int64Counter("fatoora.license.validations",
		metric.WithDescription("License validation attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	lockouts, err := meter.Int64Counter("fatoora.license.lockout_transitions",
		metric.WithDescription("Transitions into the retry-lockout blocked state"),
	)
	if err != nil {
		return nil, err
	}

	pinsIssued, err := meter.Int64Counter("fatoora.pin.issued",
		metric.WithDescription("Verification codes issued"),
	)
	if err != nil {
		return nil, err
	}

	pinsVerified, err := meter.Int64Counter("fatoora.pin.verified",
		metric.WithDescription("Verification codes successfully verified"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		validations:        validations,
		lockoutTransitions: lockouts,
		pinsIssued:         pinsIssued,
		pinsVerified:       pinsVerified,
	}, nil
}

// RecordValidation counts one validation attempt with its outcome
func (m *Metrics) RecordValidation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLockout counts one transition into the blocked state
func (m *Metrics) RecordLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockoutTransitions.Add(ctx, 1)
}

// RecordPINIssued counts one issued verification code
func (m *Metrics) RecordPINIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.pinsIssued.Add(ctx, 1)
}

// RecordPINVerified counts one successful verification
func (m *Metrics) RecordPINVerified(ctx context.Context) {
	if m == nil {
		return
	}
	m.pinsVerified.Add(ctx, 1)
}
