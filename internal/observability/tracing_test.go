package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// TestInitTracing_NoEndpoint verifies tracing stays local when no endpoint is configured.
func TestInitTracing_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

// TestInitTracing_UnknownProtocol verifies a bad protocol is rejected.
func TestInitTracing_UnknownProtocol(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Endpoint: "localhost:4318", Protocol: "carrier-pigeon"})
	if err == nil {
		t.Fatal("InitTracing() error = nil, want error for unknown protocol")
	}
}

// TestInitProfiling_Disabled verifies the no-op hook when profiling is off.
func TestInitProfiling_Disabled(t *testing.T) {
	hook := InitProfiling(ProfilingConfig{}, zap.NewNop())
	if err := hook(context.Background()); err != nil {
		t.Errorf("hook() error = %v", err)
	}
}

// TestFlushTelemetry_JoinsHookErrors verifies every hook runs and failures are reported.
func TestFlushTelemetry_JoinsHookErrors(t *testing.T) {
	errA := errors.New("a")
	ran := 0
	hooks := []ShutdownFunc{
		func(context.Context) error { ran++; return errA },
		nil,
		func(context.Context) error { ran++; return nil },
	}

	err := FlushTelemetry(context.Background(), nil, hooks...)

	if ran != 2 {
		t.Errorf("hooks run = %d, want 2", ran)
	}
	if !errors.Is(err, errA) {
		t.Errorf("FlushTelemetry() error = %v, want errA", err)
	}
}
