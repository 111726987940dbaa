package workerpool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelageech/lifo"
	pkgsync "github.com/pelageech/lifo/pkg/sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	System = "WorkerPool"
)

var ErrPoolRunning = errors.New("pool is already running")

// Pool is a lifo.Executor whose pending tasks live on a concurrent stack:
// the most recently submitted task is the next one to run. Idle workers sleep
// inside the stack's wait-pop and are woken one per submitted task.
type Pool struct {
	mu      sync.Mutex
	running bool
	stopped atomic.Bool

	tasks   *pkgsync.Stack[entry]
	workers int64
	wg      sync.WaitGroup

	log         *zap.Logger
	id          string
	serviceName string
	attrs       []attribute.KeyValue
	measure     metric.MeasurementOption

	tasksPending  metric.Int64UpDownCounter
	tasksFullPath metric.Int64Histogram
	tasksPanics   metric.Int64Counter
	workersCount  metric.Int64UpDownCounter
	workersIdle   metric.Int64UpDownCounter
}

var _ lifo.Executor = (*Pool)(nil)

type entry struct {
	task      *lifo.Task
	submitted time.Time
}

type Opt func(*Pool)

// WithServiceName is used for a separate attribute for OTel metrics.
func WithServiceName(serviceName string) Opt {
	return func(p *Pool) {
		p.serviceName = serviceName
	}
}

// WithWorkersCount sets the number of workers started by Run. Values below one are raised to one.
func WithWorkersCount(count int64) Opt {
	return func(p *Pool) {
		p.workers = count
	}
}

// WithLogger sets the logger for task failures and panics. The default discards everything.
func WithLogger(log *zap.Logger) Opt {
	return func(p *Pool) {
		p.log = log
	}
}

func NewPool(opts ...Opt) *Pool {
	p := &Pool{
		tasks:       pkgsync.NewStack[entry](),
		workers:     10,
		log:         zap.NewNop(),
		id:          uuid.NewString(),
		serviceName: "default",
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	p.log = p.log.With(zap.String("pool", p.id))

	p.attrs = []attribute.KeyValue{
		attribute.String(lifo.MeterPrefix+"system", System),
		attribute.String(lifo.MeterPrefix+"service", p.serviceName),
		attribute.String(lifo.MeterPrefix+"pool.id", p.id),
	}
	p.measure = metric.WithAttributes(p.attrs...)

	m := lifo.Meter()
	p.tasksPending, _ = m.Int64UpDownCounter(lifo.MeterPrefix + "tasks.pending")
	p.tasksFullPath, _ = m.Int64Histogram(lifo.MeterPrefix+"tasks.fullpath", metric.WithUnit("ms"))
	p.tasksPanics, _ = m.Int64Counter(lifo.MeterPrefix + "tasks.panics")
	p.workersCount, _ = m.Int64UpDownCounter(lifo.MeterPrefix + "workers")
	p.workersIdle, _ = m.Int64UpDownCounter(lifo.MeterPrefix + "workers.idle")

	return p
}

// ID identifies the pool in logs and metrics.
func (p *Pool) ID() string {
	return p.id
}

func (p *Pool) Submit(task *lifo.Task) error {
	if task == nil {
		return lifo.ErrNilTask
	}
	if p.stopped.Load() {
		return lifo.ErrExecutorStopped
	}

	p.tasks.Push(entry{task: task, submitted: time.Now()})
	p.tasksPending.Add(context.Background(), 1, p.measure)
	return nil
}

func (p *Pool) Pending() int {
	return p.tasks.Size()
}

// Tasks iterates the pending tasks in the order they would be picked up.
func (p *Pool) Tasks() iter.Seq[*lifo.Task] {
	return func(yield func(*lifo.Task) bool) {
		for e := range p.tasks.All() {
			if !yield(e.task) {
				return
			}
		}
	}
}

// Drain removes every pending task at once and returns them newest first.
func (p *Pool) Drain() []*lifo.Task {
	drained := pkgsync.NewStack[entry]()
	p.tasks.Swap(drained)

	res := make([]*lifo.Task, 0, drained.Size())
	for e := range drained.All() {
		res = append(res, e.task)
	}
	p.tasksPending.Add(context.Background(), -int64(len(res)), p.measure)
	return res
}

func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return lifo.ErrExecutorStopped
	}
	if p.running {
		p.mu.Unlock()
		return ErrPoolRunning
	}
	p.running = true
	p.mu.Unlock()

	workers, err := ants.NewPool(int(p.workers), ants.WithPanicHandler(func(v any) {
		p.log.Error("worker panicked", zap.Any("panic", v))
	}))
	if err != nil {
		p.stopped.Store(true)
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer workers.Release()

	for range p.workers {
		p.wg.Add(1)
		if err := workers.Submit(func() { p.runWorker(ctx) }); err != nil {
			p.wg.Done()
			p.log.Warn("failed to start worker", zap.Error(err))
		}
	}
	p.log.Debug("pool started", zap.Int64("workers", p.workers), zap.Int("pending", p.Pending()))

	<-ctx.Done()
	p.stopped.Store(true)
	p.wg.Wait()

	p.log.Debug("pool stopped", zap.Int("pending", p.Pending()))
	return context.Cause(ctx)
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	p.workersCount.Add(ctx, 1, p.measure)
	defer p.workersCount.Add(ctx, -1, p.measure)

	for ctx.Err() == nil {
		p.workersIdle.Add(ctx, 1, p.measure)
		e, err := p.tasks.WaitAndPopContext(ctx)
		p.workersIdle.Add(ctx, -1, p.measure)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			// lost the race with shutdown, leave the task pending
			p.tasks.Push(e)
			return
		}

		p.tasksPending.Add(ctx, -1, p.measure)
		p.runTask(ctx, e)
	}
}

func (p *Pool) runTask(ctx context.Context, e entry) {
	defer func() {
		if r := recover(); r != nil {
			p.tasksPanics.Add(ctx, 1, p.measure)
			p.log.Error("task panicked",
				zap.Int64("task", int64(e.task.ID())),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		p.tasksFullPath.Record(ctx, time.Since(e.submitted).Milliseconds(), p.measure)
	}()

	if err := e.task.Run(ctx, lifo.WithMeasurementAttributes(p.attrs...)); err != nil {
		p.log.Debug("task failed", zap.Int64("task", int64(e.task.ID())), zap.Error(err))
	}
}
