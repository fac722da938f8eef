package telemetry_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"gamesync/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "test-service", "n1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Use a non-routable address so no actual export happens.
	shutdown, err := telemetry.Setup(context.Background(), "test-service", "n1", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestMetrics_RecordOnNoopMeter(t *testing.T) {
	m, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	m.Applied(ctx, "DiceRoll", true)
	m.Confirmed(ctx)
	m.Expired(ctx, 2)
	m.Conflict(ctx, "PlaceBet")
	m.Dropped(ctx, "malformed")
	m.Latency(ctx, "n2", 15*time.Millisecond)
}

func TestNoop(t *testing.T) {
	if telemetry.Noop() == nil {
		t.Fatal("expected metrics")
	}
}
