package lifo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

func TestTaskRun(t *testing.T) {
	calls := 0
	task := NewTask(RunnableFunc(func(ctx context.Context) error {
		calls++
		return nil
	}))

	require.NoError(t, task.Run(context.Background()))
	require.NoError(t, task.Run(context.Background()))
	require.Equal(t, 2, calls)
	require.Zero(t, task.Timeout())
}

func TestTaskRunError(t *testing.T) {
	errTask := errors.New("task failed")
	task := NewTask(RunnableFunc(func(ctx context.Context) error {
		return errTask
	}))

	require.ErrorIs(t, task.Run(context.Background()), errTask)
}

func TestTaskTimeout(t *testing.T) {
	task := NewTask(RunnableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithTimeout(20*time.Millisecond))

	require.Equal(t, 20*time.Millisecond, task.Timeout())
	require.ErrorIs(t, task.Run(context.Background()), ErrTaskTimeout)
}

func TestTaskParentCancelIsNotTimeout(t *testing.T) {
	task := NewTask(RunnableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithTimeout(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := task.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrTaskTimeout)
}

func TestTaskClone(t *testing.T) {
	task := NewTask(RunnableFunc(func(context.Context) error { return nil }), WithTimeout(time.Second))
	clone := task.Clone()

	require.NotEqual(t, task.ID(), clone.ID())
	require.Equal(t, task.Timeout(), clone.Timeout())
	require.NotNil(t, clone.Runnable())
}

func TestVersion(t *testing.T) {
	// the module under test is the main module, not a dependency
	require.Equal(t, fallbackVersion, Version())
}

func TestTaskRunConcurrentWithInstrumentMetrics(t *testing.T) {
	task := NewTask(RunnableFunc(func(context.Context) error { return nil }))

	var g errgroup.Group
	g.Go(func() error {
		for range 100 {
			InstrumentMetrics()
		}
		return nil
	})
	for i := range 4 {
		g.Go(func() error {
			for range 100 {
				err := task.Run(context.Background(),
					WithMeasurementAttributes(attribute.Int(MeterPrefix+"runner", i)))
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
