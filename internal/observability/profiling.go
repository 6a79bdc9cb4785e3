package observability

import (
	"context"
	"fmt"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilingConfig enables continuous profiling when ServerAddress is set.
type ProfilingConfig struct {
	ServerAddress     string
	BasicAuthUser     string
	BasicAuthPassword string
}

// InitProfiling starts the Pyroscope profiler. Failure to start is logged and
// not fatal; the returned hook is always safe to call.
func InitProfiling(cfg ProfilingConfig, logger *zap.Logger) ShutdownFunc {
	noop := func(context.Context) error { return nil }
	if cfg.ServerAddress == "" {
		return noop
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   ServiceName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Tags:              map[string]string{"version": Version},
	})
	if err != nil {
		logger.Warn("pyroscope profiler not started", zap.Error(err))
		return noop
	}
	logger.Info("pyroscope profiling started", zap.String("server", cfg.ServerAddress))

	return func(context.Context) error {
		if err := profiler.Stop(); err != nil {
			return fmt.Errorf("stop profiler: %w", err)
		}
		return nil
	}
}
