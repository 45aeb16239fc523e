package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseKey is the API entry that carries the sanitized response.
const ResponseKey = "response"

// Stage is a state of the per-run state machine.
type Stage string

// Run stages. Disposed is reached from every branch.
const (
	StageCreated        Stage = "created"
	StageContextReady   Stage = "context_ready"
	StageSanitizeFailed Stage = "sanitize_failed"
	StageBound          Stage = "bound"
	StageCompileFailed  Stage = "compile_failed"
	StageRunning        Stage = "running"
	StageRuntimeFailed  Stage = "runtime_failed"
	StageCompleted      Stage = "completed"
	StageDisposed       Stage = "disposed"
)

// StageHook observes stage transitions of a run.
type StageHook func(runID string, stage Stage)

// Engine compiles and runs one guest script per call, each in its own
// isolate.
type Engine struct {
	logger    *zap.Logger
	isolates  Manager
	bootstrap *Synthesizer
	hook      StageHook
}

// EngineOption defines a functional option for Engine
type EngineOption func(*Engine)

// WithRootName sets the guest object that carries the API.
func WithRootName(name string) EngineOption {
	return func(e *Engine) {
		e.bootstrap = NewSynthesizer(name)
	}
}

// WithStageHook registers a hook called on every stage transition.
func WithStageHook(hook StageHook) EngineOption {
	return func(e *Engine) {
		e.hook = hook
	}
}

// NewEngine creates a new Engine
func NewEngine(logger *zap.Logger, isolates Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:    logger,
		isolates:  isolates,
		bootstrap: NewSynthesizer(DefaultRootName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes script against hostAPI and response. Whatever the outcome,
// the isolate is disposed exactly once before Run returns. Results are
// collected by hostAPI's functions; Run only reports success or the single
// failure of the run.
func (e *Engine) Run(ctx context.Context, script string, hostAPI Namespace, response any) (err error) {
	runID := uuid.NewString()
	log := e.logger.With(zap.String("run_id", runID))
	start := time.Now()

	iso, err := e.isolates.Create(ctx)
	if iso == nil && err == nil {
		err = newError(KindContextInit, "create isolate", errors.New("manager returned no isolate"))
	}
	if iso != nil {
		log = log.With(zap.String("isolate_id", iso.ID()))
		e.stage(log, runID, StageCreated)
		defer func() {
			err = e.dispose(log, iso, err)
			e.stage(log, runID, StageDisposed)
			log.Debug("run finished", zap.Duration("duration", time.Since(start)), zap.Error(err))
		}()
	}
	if err != nil {
		if KindOf(err) == "" {
			err = newError(KindContextInit, "create isolate", err)
		}
		log.Warn("isolate creation failed", zap.Error(err))
		return err
	}
	e.stage(log, runID, StageContextReady)

	snapshot, err := Sanitize(response)
	if err != nil {
		e.stage(log, runID, StageSanitizeFailed)
		return err
	}

	prologue, err := e.bindAPI(iso, hostAPI, snapshot)
	if err != nil {
		return err
	}
	e.stage(log, runID, StageBound)

	program, err := goja.Compile("script.js", prologue+"\n"+script, false)
	if err != nil {
		e.stage(log, runID, StageCompileFailed)
		return newError(KindCompile, "compile script", err)
	}

	e.stage(log, runID, StageRunning)
	if err := e.execute(iso, program); err != nil {
		e.stage(log, runID, StageRuntimeFailed)
		return err
	}
	e.stage(log, runID, StageCompleted)
	return nil
}

// bindAPI merges the snapshot into the host API, binds the resulting tree
// and returns the matching prologue.
func (e *Engine) bindAPI(iso *Isolate, hostAPI Namespace, snapshot any) (string, error) {
	ns := make(Namespace, len(hostAPI)+1)
	for k, v := range hostAPI {
		ns[k] = v
	}
	ns[ResponseKey] = Plain(snapshot)

	tree, err := Wrap(ns)
	if err != nil {
		return "", newError(KindContextInit, "build API tree", err)
	}
	prologue, err := e.bootstrap.Synthesize(tree)
	if err != nil {
		return "", newError(KindContextInit, "synthesize bootstrap", err)
	}
	if err := iso.bind(tree); err != nil {
		return "", newError(KindContextInit, "bind API", err)
	}
	return prologue, nil
}

func (e *Engine) execute(iso *Isolate, program *goja.Program) (err error) {
	vm, err := iso.runtime()
	if err != nil {
		return newError(KindRuntime, "run script", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindRuntime, "run script", fmt.Errorf("host panic: %v", r))
		}
	}()

	if _, err := vm.RunProgram(program); err != nil {
		if reason := iso.interruptReason(); reason != nil {
			return newError(KindRuntime, "run script", fmt.Errorf("%w: %w", ErrInterrupted, reason))
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return newError(KindRuntime, "run script", &GuestException{Message: exceptionMessage(ex)})
		}
		return newError(KindRuntime, "run script", err)
	}
	return nil
}

// dispose tears the isolate down and merges a disposal failure into the
// run's outcome without ever replacing an earlier failure.
func (e *Engine) dispose(log *zap.Logger, iso *Isolate, runErr error) error {
	derr := e.isolates.Dispose(iso)
	if derr == nil {
		return runErr
	}
	if KindOf(derr) != KindDisposal {
		derr = newError(KindDisposal, "dispose isolate", derr)
	}
	if runErr == nil {
		log.Error("isolate disposal failed", zap.Error(derr))
		return derr
	}

	log.Warn("isolate disposal failed after run failure",
		zap.Error(derr),
		zap.NamedError("cause", runErr))
	var primary *Error
	if errors.As(runErr, &primary) {
		withSecondary := *primary
		withSecondary.Secondary = derr
		return &withSecondary
	}
	return &Error{Kind: KindRuntime, Op: "run", Err: runErr, Secondary: derr}
}

func (e *Engine) stage(log *zap.Logger, runID string, s Stage) {
	log.Debug("run stage", zap.String("stage", string(s)))
	if e.hook != nil {
		e.hook(runID, s)
	}
}
