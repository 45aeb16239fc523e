package sandbox

import (
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
)

// NewManagerFromConfig creates the isolate manager described by the
// configuration: goja isolates under a deadline policy.
func NewManagerFromConfig(logger *zap.Logger, cfg *config.Config) Manager {
	base := NewGojaManager(logger,
		WithMaxCallStackSize(cfg.Sandbox.MaxCallStack),
		WithConsole(cfg.Sandbox.EnableConsole),
	)
	return NewDeadlineManager(base, cfg.GetTimeout())
}

// NewEngineFromConfig creates an engine on top of isolates.
func NewEngineFromConfig(logger *zap.Logger, cfg *config.Config, isolates Manager) *Engine {
	return NewEngine(logger, isolates, WithRootName(cfg.Sandbox.RootName))
}
