package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDeadlineManagerInterruptsLongRuns(t *testing.T) {
	logger := zaptest.NewLogger(t)
	isolates := NewDeadlineManager(NewGojaManager(logger), 100*time.Millisecond)
	engine := NewEngine(logger, isolates)

	start := time.Now()
	err := engine.Run(context.Background(), `for (;;) {}`, Namespace{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, isolates.stops)
}

func TestDeadlineManagerGuestCannotSwallowInterrupt(t *testing.T) {
	logger := zaptest.NewLogger(t)
	isolates := NewDeadlineManager(NewGojaManager(logger), 100*time.Millisecond)
	engine := NewEngine(logger, isolates)

	script := `
for (;;) {
	try {
		for (;;) {}
	} catch (e) {
		// keep spinning
	} finally {
		ping();
	}
}`
	err := engine.Run(context.Background(), script, Namespace{
		"ping": HostFunc(func(args []any) (any, error) { return nil, nil }),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestDeadlineManagerCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	isolates := NewDeadlineManager(NewGojaManager(logger), time.Minute)
	engine := NewEngine(logger, isolates)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := engine.Run(ctx, `while (true) {}`, Namespace{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeadlineManagerFastRun(t *testing.T) {
	logger := zaptest.NewLogger(t)
	isolates := NewDeadlineManager(NewGojaManager(logger), time.Second)

	iso, err := isolates.Create(context.Background())
	require.NoError(t, err)
	require.Len(t, isolates.stops, 1)

	require.NoError(t, isolates.Dispose(iso))
	assert.Empty(t, isolates.stops)
	assert.False(t, iso.interrupted())
}
