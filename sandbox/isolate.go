package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxCallStackSize bounds guest recursion depth.
const DefaultMaxCallStackSize = 1024

// Manager owns the lifecycle of isolates. Create may return a
// half-initialised isolate together with an error; the caller must still
// dispose it.
type Manager interface {
	Create(ctx context.Context) (*Isolate, error)
	Dispose(iso *Isolate) error
}

// Isolate is one goja runtime and its global context, owned by one run.
type Isolate struct {
	id string
	vm *goja.Runtime

	mu        sync.Mutex
	disposed  bool
	interrupt any
}

// ID returns the isolate's unique id.
func (iso *Isolate) ID() string {
	return iso.id
}

// Disposed reports whether the isolate was torn down.
func (iso *Isolate) Disposed() bool {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.disposed
}

// Interrupt aborts the running guest code. The interrupt is sticky: host
// calls made after it re-raise it, so guest code cannot swallow it.
func (iso *Isolate) Interrupt(reason any) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.disposed {
		return
	}
	if iso.interrupt == nil {
		iso.interrupt = reason
	}
	iso.vm.Interrupt(reason)
}

func (iso *Isolate) interrupted() bool {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.interrupt != nil
}

// interruptReason returns why the isolate was interrupted, or nil.
func (iso *Isolate) interruptReason() error {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	switch r := iso.interrupt.(type) {
	case nil:
		return nil
	case error:
		return r
	default:
		return fmt.Errorf("%v", r)
	}
}

// reassertInterrupt raises the stored interrupt again before and after host
// calls.
func (iso *Isolate) reassertInterrupt() {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.interrupt != nil && !iso.disposed {
		iso.vm.Interrupt(iso.interrupt)
	}
}

func (iso *Isolate) runtime() (*goja.Runtime, error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.disposed {
		return nil, errors.New("isolate already disposed")
	}
	return iso.vm, nil
}

// SetupFunc runs against a fresh runtime while its context is prepared.
type SetupFunc func(vm *goja.Runtime) error

// GojaManager creates goja isolates with hardened globals.
type GojaManager struct {
	logger           *zap.Logger
	maxCallStackSize int
	console          bool
	setup            []SetupFunc
}

// GojaManagerOption defines a functional option for GojaManager
type GojaManagerOption func(*GojaManager)

// WithMaxCallStackSize sets the guest call stack limit.
func WithMaxCallStackSize(n int) GojaManagerOption {
	return func(m *GojaManager) {
		m.maxCallStackSize = n
	}
}

// WithConsole routes guest console.* calls to the logger.
func WithConsole(enabled bool) GojaManagerOption {
	return func(m *GojaManager) {
		m.console = enabled
	}
}

// WithSetup adds a context setup step.
func WithSetup(fn SetupFunc) GojaManagerOption {
	return func(m *GojaManager) {
		m.setup = append(m.setup, fn)
	}
}

// NewGojaManager creates a new GojaManager
func NewGojaManager(logger *zap.Logger, opts ...GojaManagerOption) *GojaManager {
	m := &GojaManager{
		logger:           logger,
		maxCallStackSize: DefaultMaxCallStackSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create allocates a runtime and prepares its global context.
func (m *GojaManager) Create(ctx context.Context) (*Isolate, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindContextInit, "create isolate", err)
	}

	iso := &Isolate{
		id: uuid.NewString(),
		vm: goja.New(),
	}
	iso.vm.SetMaxCallStackSize(m.maxCallStackSize)

	if err := m.prepare(iso); err != nil {
		return iso, newError(KindContextInit, "prepare context", err)
	}

	m.logger.Debug("isolate created", zap.String("isolate_id", iso.id))
	return iso, nil
}

func (m *GojaManager) prepare(iso *Isolate) error {
	vm := iso.vm
	for _, name := range []string{"require", "process", "module", "exports", "eval"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if _, err := vm.RunString(lockFunctionConstructor); err != nil {
		return fmt.Errorf("failed to lock function constructors: %w", err)
	}

	if m.console {
		if err := m.installConsole(iso); err != nil {
			return fmt.Errorf("failed to install console: %w", err)
		}
	}

	for _, fn := range m.setup {
		if err := fn(vm); err != nil {
			return err
		}
	}
	return nil
}

// lockFunctionConstructor replaces every constructor that compiles source
// text: Function plus the generator and async function constructors reachable
// through their prototypes. goja has no async generators.
const lockFunctionConstructor = `(function (g) {
	function lock(proto, name) {
		var locked = function () { throw new TypeError(name + " constructor is disabled"); };
		Object.defineProperty(locked, "name", { value: name });
		locked.prototype = proto;
		Object.defineProperty(proto, "constructor", { value: locked, writable: false, configurable: false });
		return locked;
	}
	lock(Object.getPrototypeOf(function* () {}), "GeneratorFunction");
	lock(Object.getPrototypeOf(async function () {}), "AsyncFunction");
	g.Function = lock(g.Function.prototype, "Function");
})(globalThis);`

func (m *GojaManager) installConsole(iso *Isolate) error {
	console := iso.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, m.consoleFunc(iso.id, level)); err != nil {
			return err
		}
	}
	return iso.vm.Set("console", console)
}

func (m *GojaManager) consoleFunc(isolateID, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		m.logger.Debug("guest console",
			zap.String("isolate_id", isolateID),
			zap.String("level", level),
			zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	}
}

// Dispose tears the isolate down. Disposing twice fails.
func (m *GojaManager) Dispose(iso *Isolate) error {
	if iso == nil {
		return newError(KindDisposal, "dispose isolate", errors.New("nil isolate"))
	}

	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.disposed {
		return newError(KindDisposal, "dispose isolate", fmt.Errorf("isolate %s already disposed", iso.id))
	}
	iso.vm.ClearInterrupt()
	iso.vm = nil
	iso.disposed = true

	m.logger.Debug("isolate disposed", zap.String("isolate_id", iso.id))
	return nil
}

// bind copies the API tree into the context together with the invoke
// primitive and the base64 utilities.
func (iso *Isolate) bind(tree *Tree) error {
	vm, err := iso.runtime()
	if err != nil {
		return err
	}

	api, err := iso.treeToGuest(tree.Root)
	if err != nil {
		return err
	}
	bindings := map[string]any{
		apiGlobal:    api,
		invokeGlobal: iso.invoker(tree.Registry),
		"atob":       iso.atob,
		"btoa":       iso.btoa,
	}
	for _, name := range sortedKeys(bindings) {
		if err := vm.Set(name, bindings[name]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

func (iso *Isolate) treeToGuest(nodes map[string]*Node) (*goja.Object, error) {
	obj := iso.vm.NewObject()
	for _, name := range sortedKeys(nodes) {
		n := nodes[name]
		var (
			val goja.Value
			err error
		)
		switch n.Kind {
		case NodeCallable:
			val, err = iso.toGuest(n.Ref)
		case NodeMatcherSet:
			set := iso.vm.NewObject()
			matchers := iso.vm.NewObject()
			for _, m := range sortedKeys(n.Matchers) {
				if err = matchers.Set(m, int64(n.Matchers[m].id)); err != nil {
					return nil, err
				}
			}
			if err = set.Set("entry", int64(n.Ref.id)); err != nil {
				return nil, err
			}
			if err = set.Set("matchers", matchers); err != nil {
				return nil, err
			}
			val = set
		case NodeNamespace:
			val, err = iso.treeToGuest(n.Children)
		default:
			val, err = iso.toGuest(n.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := obj.Set(name, val); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// invoker is the single blocking call primitive of the boundary:
// invoke(ref, args[, tags]). It returns the host result or throws.
func (iso *Isolate) invoker(reg *Registry) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		vm := iso.vm
		iso.reassertInterrupt()

		ref, err := reg.lookup(call.Argument(0).ToInteger())
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		args, err := iso.callArgs(call.Argument(1), call.Argument(2))
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}

		out, err := reg.Invoke(ref, args)
		iso.reassertInterrupt()
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if out == nil {
			return goja.Undefined()
		}
		val, err := iso.toGuest(out)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return val
	}
}

func (iso *Isolate) callArgs(list, tags goja.Value) ([]any, error) {
	if goja.IsUndefined(list) || goja.IsNull(list) {
		return nil, nil
	}
	arr, ok := list.(*goja.Object)
	if !ok {
		return nil, errors.New("invoke expects an argument list")
	}
	var tagObj *goja.Object
	if t, ok := tags.(*goja.Object); ok {
		tagObj = t
	}

	n := int(arr.Get("length").ToInteger())
	args := make([]any, n)
	for i := 0; i < n; i++ {
		key := strconv.Itoa(i)
		tag := ""
		if tagObj != nil {
			if t := tagObj.Get(key); t != nil && !goja.IsUndefined(t) {
				tag = t.String()
			}
		}
		arg, err := iso.fromGuest(arr.Get(key), tag)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}
