package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGojaManagerLifecycle(t *testing.T) {
	m := NewGojaManager(zaptest.NewLogger(t))

	iso, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NotNil(t, iso)
	assert.NotEmpty(t, iso.ID())
	assert.False(t, iso.Disposed())

	require.NoError(t, m.Dispose(iso))
	assert.True(t, iso.Disposed())

	t.Run("DoubleDispose", func(t *testing.T) {
		err := m.Dispose(iso)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDisposal)
	})

	t.Run("NilDispose", func(t *testing.T) {
		assert.ErrorIs(t, m.Dispose(nil), ErrDisposal)
	})

	t.Run("InterruptAfterDispose", func(t *testing.T) {
		assert.NotPanics(t, func() { iso.Interrupt("late") })
	})
}

func TestGojaManagerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	iso, err := NewGojaManager(zaptest.NewLogger(t)).Create(ctx)
	assert.Nil(t, iso)
	assert.ErrorIs(t, err, ErrContextInit)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGojaManagerSetupFailure(t *testing.T) {
	m := NewGojaManager(zaptest.NewLogger(t), WithSetup(func(vm *goja.Runtime) error {
		return errors.New("setup failed")
	}))

	iso, err := m.Create(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextInit)
	require.NotNil(t, iso, "a half-initialised isolate must still be returned for disposal")
	require.NoError(t, m.Dispose(iso))
}

func TestGojaManagerHardenedGlobals(t *testing.T) {
	m := NewGojaManager(zaptest.NewLogger(t), WithConsole(true))
	iso, err := m.Create(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Dispose(iso)) }()

	vm, err := iso.runtime()
	require.NoError(t, err)

	tests := []struct {
		name   string
		script string
		want   any
	}{
		{"NoRequire", `typeof require`, "undefined"},
		{"NoProcess", `typeof process`, "undefined"},
		{"NoEval", `typeof eval`, "undefined"},
		{"ConsoleInstalled", `console.log("hello", 1); typeof console.log`, "function"},
		{"FunctionConstructorLocked", `try { (function () {}).constructor("return 1")(); "open" } catch (e) { e.name }`, "TypeError"},
		{"FunctionGlobalLocked", `try { Function("return 1")(); "open" } catch (e) { e.name }`, "TypeError"},
		{"GeneratorFunctionConstructorLocked", `try { (function* () {}).constructor("yield 1")().next().value; "open" } catch (e) { e.name }`, "TypeError"},
		{"AsyncFunctionConstructorLocked", `try { (async function () {}).constructor("return 1"); "open" } catch (e) { e.name }`, "TypeError"},
		{"ConstructorOverrideFrozen", `Object.getOwnPropertyDescriptor(Object.getPrototypeOf(async function () {}), "constructor").configurable`, false},
		{"GeneratorInstanceofStillWorks", `(function* () {}) instanceof Function`, true},
		{"InstanceofStillWorks", `(function () {}) instanceof Function`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.RunString(tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Export())
		})
	}
}

func TestGojaManagerAsyncGeneratorsRejected(t *testing.T) {
	m := NewGojaManager(zaptest.NewLogger(t))
	iso, err := m.Create(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Dispose(iso)) }()

	vm, err := iso.runtime()
	require.NoError(t, err)
	_, err = vm.RunString(`(async function* () {}).constructor`)
	require.Error(t, err)
	var syntax *goja.CompilerSyntaxError
	assert.ErrorAs(t, err, &syntax)
}

func TestGojaManagerCallStackLimit(t *testing.T) {
	m := NewGojaManager(zaptest.NewLogger(t), WithMaxCallStackSize(64))
	iso, err := m.Create(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Dispose(iso)) }()

	vm, err := iso.runtime()
	require.NoError(t, err)
	_, err = vm.RunString(`(function f() { return f() + 1; })()`)
	require.Error(t, err)
	var overflow *goja.StackOverflowError
	assert.ErrorAs(t, err, &overflow)
}

func TestIsolateBoundary(t *testing.T) {
	m := NewGojaManager(zaptest.NewLogger(t))
	iso, err := m.Create(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Dispose(iso)) }()

	var received []any
	tree, err := Wrap(Namespace{
		"capture": HostFunc(func(args []any) (any, error) {
			received = args
			return map[string]any{"ok": true, "items": []string{"a", "b"}}, nil
		}),
		"call": HostFunc(func(args []any) (any, error) {
			fn, ok := args[0].(GuestFunc)
			if !ok {
				return nil, errors.New("expected a function")
			}
			return fn(int64(20), "x")
		}),
		"fail": HostFunc(func(args []any) (any, error) {
			return nil, errors.New("host said no")
		}),
	})
	require.NoError(t, err)
	prologue, err := NewSynthesizer("").Synthesize(tree)
	require.NoError(t, err)
	require.NoError(t, iso.bind(tree))

	vm, err := iso.runtime()
	require.NoError(t, err)
	_, err = vm.RunString(prologue)
	require.NoError(t, err)

	t.Run("InternalsRemoved", func(t *testing.T) {
		v, err := vm.RunString(`typeof ` + apiGlobal + ` + "," + typeof ` + invokeGlobal)
		require.NoError(t, err)
		assert.Equal(t, "undefined,undefined", v.String())
	})

	t.Run("Primitives", func(t *testing.T) {
		v, err := vm.RunString(`var r = capture(1, 2.5, "s", true, null, undefined); r.ok && r.items.join("")`)
		require.NoError(t, err)
		assert.Equal(t, "ab", v.Export())
		assert.Equal(t, []any{int64(1), 2.5, "s", true, nil, Undefined}, received)
	})

	t.Run("RootObject", func(t *testing.T) {
		v, err := vm.RunString(`pw.capture === capture`)
		require.NoError(t, err)
		assert.Equal(t, true, v.Export())
	})

	t.Run("ObjectsRejected", func(t *testing.T) {
		v, err := vm.RunString(`try { capture({a: 1}); "passed" } catch (e) { e.name }`)
		require.NoError(t, err)
		assert.Equal(t, "TypeError", v.Export())
	})

	t.Run("GuestCallback", func(t *testing.T) {
		v, err := vm.RunString(`call(function (n, s) { return n + s; })`)
		require.NoError(t, err)
		assert.Equal(t, "20x", v.Export())
	})

	t.Run("HostErrorThrows", func(t *testing.T) {
		v, err := vm.RunString(`try { fail(); "passed" } catch (e) { String(e.message || e) }`)
		require.NoError(t, err)
		assert.Contains(t, v.String(), "host said no")
	})

	t.Run("Base64Globals", func(t *testing.T) {
		v, err := vm.RunString(`atob(btoa("hi"))`)
		require.NoError(t, err)
		assert.Equal(t, "hi", v.Export())
	})
}
