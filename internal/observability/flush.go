package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ShutdownFunc releases a telemetry pipeline (tracer provider, profiler).
type ShutdownFunc func(ctx context.Context) error

// FlushTelemetry runs the given shutdown hooks, then syncs the logger.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, hooks ...ShutdownFunc) error {
	var errs []error
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
