package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeadlineExceeded is the interrupt reason used when a run takes too long.
var ErrDeadlineExceeded = errors.New("execution timeout exceeded")

// DeadlineManager layers a timeout and cancellation policy over another
// Manager. Each isolate is interrupted when the timeout elapses or the
// context passed to Create is done, whichever comes first.
type DeadlineManager struct {
	inner   Manager
	timeout time.Duration

	mu    sync.Mutex
	stops map[*Isolate]func()
}

// NewDeadlineManager creates a new DeadlineManager
func NewDeadlineManager(inner Manager, timeout time.Duration) *DeadlineManager {
	return &DeadlineManager{
		inner:   inner,
		timeout: timeout,
		stops:   make(map[*Isolate]func()),
	}
}

// Create creates an isolate through the inner manager and arms its deadline.
func (d *DeadlineManager) Create(ctx context.Context) (*Isolate, error) {
	iso, err := d.inner.Create(ctx)
	if iso == nil {
		return nil, err
	}

	done := make(chan struct{})
	var timer *time.Timer
	if d.timeout > 0 {
		timer = time.AfterFunc(d.timeout, func() {
			iso.Interrupt(fmt.Errorf("%w after %s", ErrDeadlineExceeded, d.timeout))
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			iso.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	d.mu.Lock()
	d.stops[iso] = func() {
		if timer != nil {
			timer.Stop()
		}
		close(done)
	}
	d.mu.Unlock()

	return iso, err
}

// Dispose disarms the deadline and disposes through the inner manager.
func (d *DeadlineManager) Dispose(iso *Isolate) error {
	d.mu.Lock()
	stop, ok := d.stops[iso]
	delete(d.stops, iso)
	d.mu.Unlock()
	if ok {
		stop()
	}
	return d.inner.Dispose(iso)
}
