package testscript

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/sandbox"
)

// Engine runs one guest script against a host API.
type Engine interface {
	Run(ctx context.Context, script string, hostAPI sandbox.Namespace, response any) error
}

// Observer is told about every finished run and test.
type Observer interface {
	ObserveRun(outcome string, elapsed time.Duration)
	ObserveTest(outcome string)
}

// RunOutcomeSuccess is the run outcome reported for runs that completed.
// Failed runs are reported with their sandbox.ErrorKind.
const RunOutcomeSuccess = "success"

type nopObserver struct{}

func (nopObserver) ObserveRun(string, time.Duration) {}
func (nopObserver) ObserveTest(string)               {}

// Runner executes test scripts and collects their results.
type Runner struct {
	logger   *zap.Logger
	engine   Engine
	observer Observer
}

// RunnerOption defines a functional option for Runner
type RunnerOption func(*Runner)

// WithObserver reports runs and tests to o.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// NewRunner creates a new Runner
func NewRunner(logger *zap.Logger, engine Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:   logger,
		engine:   engine,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes script against response with env as the initial
// environment. It returns either the full result or the single failure of
// the run; env itself is never modified.
func (r *Runner) Run(ctx context.Context, script string, env Environment, response Response) (RunResult, error) {
	start := time.Now()
	b := newBuilder(r.logger, env)

	if err := r.engine.Run(ctx, script, b.namespace(), response); err != nil {
		outcome := string(sandbox.KindOf(err))
		if outcome == "" {
			outcome = string(sandbox.KindRuntime)
		}
		r.observer.ObserveRun(outcome, time.Since(start))
		r.logger.Info("test script failed",
			zap.String("outcome", outcome),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return RunResult{}, err
	}

	result := b.result()
	r.observer.ObserveRun(RunOutcomeSuccess, time.Since(start))
	observeTests(r.observer, result.Tests)

	r.logger.Info("test script completed",
		zap.Int("tests", len(result.Tests)),
		zap.Bool("passed", result.Passed()),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func observeTests(o Observer, tests []TestResult) {
	for _, t := range tests {
		o.ObserveTest(string(t.Outcome))
		observeTests(o, t.Children)
	}
}
