package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger as JSON on stderr.
//
// LOG_LEVEL picks the minimum level (default info), LOG_FORMAT=console
// switches to the development encoder, and ENV_NAME is stamped on every entry.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = parseLogLevel(os.Getenv("LOG_LEVEL"))

	fields := map[string]interface{}{"service": ServiceName}
	if env := strings.TrimSpace(os.Getenv("ENV_NAME")); env != "" {
		fields["env"] = env
	}
	cfg.InitialFields = fields

	return cfg.Build()
}

func parseLogLevel(s string) zap.AtomicLevel {
	level := zap.InfoLevel
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		level = zap.DebugLevel
	case "WARN", "WARNING":
		level = zap.WarnLevel
	case "ERROR":
		level = zap.ErrorLevel
	}
	return zap.NewAtomicLevelAt(level)
}
