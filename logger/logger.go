package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/scriptbox/config"
)

// ServiceName is attached to every log line.
const ServiceName = "scriptbox"

var modes = map[string]func() zap.Config{
	"development": func() zap.Config {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	},
	"production": func() zap.Config {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// first 100 identical entries per second, then every 100th
		cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
		return cfg
	},
}

// NewFromConfig builds the logger described by cfg.Logging.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level)
}

// New builds a logger for mode ("development" or "production") at level.
// opts are applied when the logger is built.
func New(mode, level string, opts ...zap.Option) (*zap.Logger, error) {
	build, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("invalid logging mode: %s, must be one of %s", mode, modeNames())
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s: %w", level, err)
	}

	cfg := build()
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s logger: %w", mode, err)
	}
	return logger.With(zap.String("service", ServiceName)), nil
}

func modeNames() string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, "'"+name+"'")
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
