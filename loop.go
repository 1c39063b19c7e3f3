package lazypkg

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Loop is a cooperative tick scheduler.
//
// All runtime state is owned by the goroutine that runs ticks. Defer is the only
// method that is safe to call from other goroutines; tasks deferred during a tick
// run on the next one.
type Loop struct {
	mu      sync.Mutex
	pending []Task
	wake    chan struct{}
	onError func(error)
}

// NewLoop returns an idle loop. onError receives task errors when the loop is
// driven by Run; it may be nil.
func NewLoop(onError func(error)) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		onError: onError,
	}
}

// Defer schedules task for the next tick.
func (l *Loop) Defer(task Task) {
	if task == nil {
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of tasks waiting for the next tick.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Tick runs the tasks queued before the call. Every task runs even if an earlier
// one fails; the errors are joined.
func (l *Loop) Tick() error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	var errs []error
	for _, task := range batch {
		if err := task(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain ticks until no task is pending or maxTicks ticks have run.
// A non-positive maxTicks means no limit.
func (l *Loop) Drain(maxTicks int) error {
	var errs []error
	for i := 0; l.Pending() > 0; i++ {
		if maxTicks > 0 && i >= maxTicks {
			errs = append(errs, fmt.Errorf("drain loop: still busy after %d ticks", maxTicks))
			break
		}
		if err := l.Tick(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run serves ticks on the calling goroutine until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.Pending() > 0 {
			if err := l.Tick(); err != nil && l.onError != nil {
				l.onError(err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Do runs fn on the loop and waits for its result. It must not be called from a
// loop task, and needs a goroutine serving Run.
func (l *Loop) Do(ctx context.Context, fn Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	l.Defer(func() error {
		done <- fn()
		return nil
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
