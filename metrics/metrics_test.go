package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/scriptbox/sandbox"
	"github.com/isdmx/scriptbox/testscript"
)

var _ testscript.Observer = (*Collector)(nil)

func TestCollectorObserve(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveRun("success", 20*time.Millisecond)
	c.ObserveRun("success", 30*time.Millisecond)
	c.ObserveRun("compile", time.Millisecond)
	c.ObserveTest("passed")
	c.ObserveTest("failed")
	c.ObserveTest("passed")

	assert.InDelta(t, 2, testutil.ToFloat64(c.RunsTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.RunsTotal.WithLabelValues("compile")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.TestsTotal.WithLabelValues("passed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.TestsTotal.WithLabelValues("failed")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(c.RunDuration))
}

type brokenManager struct {
	sandbox.Manager
}

func (brokenManager) Dispose(*sandbox.Isolate) error {
	return errors.New("stuck")
}

func TestInstrumentIsolates(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("CreateAndDispose", func(t *testing.T) {
		c := New(prometheus.NewRegistry())
		m := c.InstrumentIsolates(sandbox.NewGojaManager(logger))

		first, err := m.Create(context.Background())
		require.NoError(t, err)
		second, err := m.Create(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 2, testutil.ToFloat64(c.IsolatesActive), 0)

		require.NoError(t, m.Dispose(first))
		assert.InDelta(t, 1, testutil.ToFloat64(c.IsolatesActive), 0)

		require.Error(t, m.Dispose(first))
		assert.InDelta(t, 1, testutil.ToFloat64(c.IsolatesActive), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(c.IsolatesTotal.WithLabelValues("dispose", "error")), 0)

		require.NoError(t, m.Dispose(second))
		assert.InDelta(t, 0, testutil.ToFloat64(c.IsolatesActive), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(c.IsolatesTotal.WithLabelValues("create", "ok")), 0)
	})

	t.Run("CreateFailure", func(t *testing.T) {
		c := New(prometheus.NewRegistry())
		m := c.InstrumentIsolates(sandbox.NewGojaManager(logger))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := m.Create(ctx)
		require.Error(t, err)
		assert.InDelta(t, 0, testutil.ToFloat64(c.IsolatesActive), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(c.IsolatesTotal.WithLabelValues("create", "error")), 0)
	})

	t.Run("DisposeFailure", func(t *testing.T) {
		c := New(prometheus.NewRegistry())
		m := c.InstrumentIsolates(brokenManager{Manager: sandbox.NewGojaManager(logger)})

		iso, err := m.Create(context.Background())
		require.NoError(t, err)
		require.Error(t, m.Dispose(iso))
		assert.InDelta(t, 1, testutil.ToFloat64(c.IsolatesActive), 0)
	})
}

func TestCollectorWithRunner(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c := New(prometheus.NewRegistry())
	engine := sandbox.NewEngine(logger, c.InstrumentIsolates(sandbox.NewGojaManager(logger)))
	runner := testscript.NewRunner(logger, engine, testscript.WithObserver(c))

	_, err := runner.Run(context.Background(), `test("a", () => expect(1).toBe(2)); test("b", () => {});`,
		testscript.Environment{}, testscript.Response{Status: 200})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), `throw 1`, testscript.Environment{}, testscript.Response{})
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(c.RunsTotal.WithLabelValues(testscript.RunOutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.RunsTotal.WithLabelValues(string(sandbox.KindRuntime))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.TestsTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.TestsTotal.WithLabelValues("passed")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(c.IsolatesActive), 0)
}
