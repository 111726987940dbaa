package lifo

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type TaskID int64

var _globalID TaskID

func generateID() TaskID {
	return TaskID(atomic.AddInt64((*int64)(&_globalID), 1))
}

type Runnable interface {
	Run(ctx context.Context) error
}

type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Task is a unit of work handed from producers to consumers.
type Task struct {
	timeout time.Duration
	id      TaskID
	task    Runnable
}

func (t *Task) ID() TaskID {
	return t.id
}

var (
	ErrTaskTimeout     = errors.New("task timeout")
	ErrNilTask         = errors.New("task is nil")
	ErrExecutorStopped = errors.New("executor stopped")
)

type runConfig struct {
	attrs []attribute.KeyValue
}

type RunOpt func(*runConfig)

// WithMeasurementAttributes adds attrs to every measurement taken for this run,
// so executors can tell their tasks apart without touching package state.
func WithMeasurementAttributes(attrs ...attribute.KeyValue) RunOpt {
	return func(c *runConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// Run executes the task. If the task has a timeout, ctx is bounded by it and
// a deadline hit is reported as ErrTaskTimeout.
func (t *Task) Run(ctx context.Context, opts ...RunOpt) error {
	c := runConfig{}
	for _, opt := range opts {
		opt(&c)
	}
	inst := loadInstruments()
	working := metric.WithAttributes(c.attrs...)

	start := time.Now()
	inst.tasksWorking.Add(ctx, 1, working)

	err := t.run(ctx)

	inst.tasksWorking.Add(ctx, -1, working)
	f := time.Since(start).Milliseconds()

	switch {
	case err == nil:
		inst.taskTimings.Record(ctx, f, statusAttributes(statusOK, c.attrs))
	case errors.Is(err, ErrTaskTimeout):
		inst.taskTimings.Record(ctx, f, statusAttributes(statusTimeout, c.attrs))
	default:
		inst.taskTimings.Record(ctx, f, statusAttributes(statusErr, c.attrs))
	}
	return err
}

func (t *Task) run(ctx context.Context) error {
	if t.timeout <= 0 {
		return t.task.Run(ctx)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, t.timeout, ErrTaskTimeout)
	defer cancel()

	err := t.task.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(context.Cause(ctx), ErrTaskTimeout) {
		return ErrTaskTimeout
	}
	return err
}

func (t *Task) Timeout() time.Duration {
	return t.timeout
}

func (t *Task) Clone() *Task {
	return &Task{
		timeout: t.timeout,
		id:      generateID(),
		task:    t.task,
	}
}

func (t *Task) Runnable() Runnable {
	return t.task
}

type TaskOpt func(*Task)

// WithTimeout bounds every run of the task. Zero means no bound.
func WithTimeout(timeout time.Duration) TaskOpt {
	return func(t *Task) {
		t.timeout = timeout
	}
}

func NewTask(task Runnable, opts ...TaskOpt) *Task {
	t := &Task{
		id:   generateID(),
		task: task,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Executor runs tasks handed to it by any number of producers. Tasks submitted
// later are picked up first.
type Executor interface {
	// Run starts consuming tasks and blocks until ctx is done. It should be run synchronously.
	//
	// Context cancellation stops idle consumers immediately and waits for the
	// running tasks, then returns the error from the context using [context.Cause].
	// Tasks that were not started remain pending.
	//
	// Task errors don't influence Executor error.
	Run(context.Context) error

	// Submit hands a task to the executor. It never blocks. ErrNilTask is returned
	// for a nil task, ErrExecutorStopped once Run has returned.
	Submit(*Task) error

	// Pending returns the number of tasks waiting for a consumer.
	Pending() int
}
