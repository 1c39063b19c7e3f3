package lazypkg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopTickRunsSnapshot(t *testing.T) {
	loop := NewLoop(nil)
	var order []string

	loop.Defer(func() error {
		order = append(order, "first")
		loop.Defer(func() error {
			order = append(order, "next-tick")
			return nil
		})
		return nil
	})
	loop.Defer(func() error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, loop.Tick())
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, loop.Pending())

	require.NoError(t, loop.Tick())
	assert.Equal(t, []string{"first", "second", "next-tick"}, order)
}

func TestLoopTickJoinsErrors(t *testing.T) {
	loop := NewLoop(nil)
	errA := errors.New("a")
	errB := errors.New("b")
	ran := 0
	loop.Defer(func() error { ran++; return errA })
	loop.Defer(func() error { ran++; return errB })

	err := loop.Tick()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 2, ran)
}

func TestLoopDrainLimit(t *testing.T) {
	loop := NewLoop(nil)
	var forever Task
	forever = func() error {
		loop.Defer(forever)
		return nil
	}
	loop.Defer(forever)

	err := loop.Drain(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still busy after 5 ticks")
}

func TestLoopRunAndDo(t *testing.T) {
	var reported []error
	loop := NewLoop(func(err error) { reported = append(reported, err) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	counter := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, loop.Do(context.Background(), func() error {
			counter++
			return nil
		}))
	}
	boom := errors.New("boom")
	assert.ErrorIs(t, loop.Do(context.Background(), func() error { return boom }), boom)

	require.NoError(t, loop.Do(context.Background(), func() error {
		loop.Defer(func() error { return boom })
		return nil
	}))
	require.NoError(t, loop.Do(context.Background(), func() error { return nil }))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, 3, counter)
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], boom)
}
