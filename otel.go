package lifo

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	OTelScopeName = "github.com/pelageech/lifo"
	MeterPrefix   = "lifo."
)

// task outcome, recorded as lifo.tasks.status on lifo.tasks.timings
const (
	statusOK      = "OK"
	statusErr     = "ERR"
	statusTimeout = "TIMEOUT"
)

type instruments struct {
	taskTimings  metric.Int64Histogram
	tasksWorking metric.Int64UpDownCounter
}

var (
	_instruments     atomic.Pointer[instruments]
	_instrumentsOnce sync.Once
)

// Meter returns a meter with the scope OTelScopeName from the global provider.
// It is safe to call from any goroutine.
func Meter() metric.Meter {
	return otel.Meter(OTelScopeName,
		metric.WithInstrumentationVersion(Version()),
		metric.WithInstrumentationAttributes(attribute.String(MeterPrefix+"version", Version())),
	)
}

// InstrumentMetrics rebinds the task instruments to the current global meter
// provider and records lifo.info. Call it after installing a provider;
// instruments created before that keep reporting to the old one.
// Running tasks pick the new instruments up on their next measurement.
func InstrumentMetrics() {
	_instruments.Store(newInstruments())
}

func newInstruments() *instruments {
	m := Meter()

	info, _ := m.Int64Gauge(MeterPrefix + "info")
	info.Record(context.Background(), 1)

	inst := &instruments{}
	inst.taskTimings, _ = m.Int64Histogram(MeterPrefix+"tasks.timings", metric.WithUnit("ms"))
	inst.tasksWorking, _ = m.Int64UpDownCounter(MeterPrefix + "tasks.working")
	return inst
}

func loadInstruments() *instruments {
	_instrumentsOnce.Do(func() {
		_instruments.CompareAndSwap(nil, newInstruments())
	})
	return _instruments.Load()
}

func statusAttributes(status string, attrs []attribute.KeyValue) metric.MeasurementOption {
	kv := make([]attribute.KeyValue, 0, len(attrs)+1)
	kv = append(kv, attrs...)
	kv = append(kv, attribute.String(MeterPrefix+"tasks.status", status))
	return metric.WithAttributeSet(attribute.NewSet(kv...))
}
