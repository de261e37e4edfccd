package stage

import (
	"context"
	"errors"
	"testing"

	"stagecoach/internal/services"
)

func TestBaseDefaults(t *testing.T) {
	base := Base{Name: "validate_env"}
	if err := base.Prepare(context.Background(), nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := base.Cleanup(context.Background(), nil); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	health := base.HealthCheck(context.Background())
	if !health.Ready || health.Name != "validate_env" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestGateFailureMarksValidation(t *testing.T) {
	cause := errors.New("disk full")
	err := GateFailure("transfer_data", "destination capacity", cause)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause preserved, got %v", err)
	}
}

func TestUnhealthyCarriesDetail(t *testing.T) {
	health := Unhealthy("run_task", "task.command not configured")
	if health.Ready {
		t.Fatal("expected not ready")
	}
	if health.Detail != "task.command not configured" {
		t.Fatalf("unexpected detail: %q", health.Detail)
	}
}
