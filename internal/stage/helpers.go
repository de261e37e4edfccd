package stage

import (
	"context"

	"stagecoach/internal/services"
	"stagecoach/internal/session"
)

// Base provides no-op Prepare and Cleanup plus an always-ready HealthCheck.
// Handlers embed it and override only the phases they implement.
type Base struct {
	Name string
}

// Prepare is a no-op.
func (Base) Prepare(context.Context, *session.Session) error { return nil }

// Cleanup is a no-op.
func (Base) Cleanup(context.Context, *session.Session) error { return nil }

// HealthCheck reports the stage ready.
func (b Base) HealthCheck(context.Context) Health { return Healthy(b.Name) }

// GateFailure wraps a gate error as a validation failure attributed to the
// named stage, suitable for returning from a Gate.
func GateFailure(stageName, detail string, err error) error {
	return services.Wrap(services.ErrValidation, stageName, "gate", detail, err)
}
