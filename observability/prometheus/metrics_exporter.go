package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/fdr400/userver/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	stepDurationSeconds     *prom.HistogramVec
	taskPanicTotal          *prom.CounterVec
	taskOverloadTotal       *prom.CounterVec
	taskCancelOverloadTotal *prom.CounterVec
	taskSwitchSlowTotal     *prom.CounterVec
	queueDepth              *prom.GaugeVec
	queueWaitTimeOverloaded *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors backing
// core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "userver"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_step_duration_seconds",
		Help:      "Duration of a single DoStep call, in seconds.",
		Buckets:   buckets,
	}, []string{"processor"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of panics caught from DoStep.",
	}, []string{"processor"})
	overloadVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_overload_total",
		Help:      "Total number of overload events (length- or wait-time-based).",
	}, []string{"processor"})
	cancelOverloadVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_cancel_overload_total",
		Help:      "Total number of overload-triggered cancellations.",
	}, []string{"processor"})
	switchSlowVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_switch_slow_total",
		Help:      "Total number of worker-dequeue poll timeouts.",
	}, []string{"processor"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current number of handles queued.",
	}, []string{"processor"})
	queueWaitOverloadedVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_wait_time_overloaded",
		Help:      "Whether the processor currently considers its queue wait time overloaded (1=yes, 0=no).",
	}, []string{"processor"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if overloadVec, err = registerCollector(reg, overloadVec); err != nil {
		return nil, err
	}
	if cancelOverloadVec, err = registerCollector(reg, cancelOverloadVec); err != nil {
		return nil, err
	}
	if switchSlowVec, err = registerCollector(reg, switchSlowVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if queueWaitOverloadedVec, err = registerCollector(reg, queueWaitOverloadedVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		stepDurationSeconds:     durationVec,
		taskPanicTotal:          panicVec,
		taskOverloadTotal:       overloadVec,
		taskCancelOverloadTotal: cancelOverloadVec,
		taskSwitchSlowTotal:     switchSlowVec,
		queueDepth:              queueDepthVec,
		queueWaitTimeOverloaded: queueWaitOverloadedVec,
	}, nil
}

func (m *MetricsExporter) RecordQueueDepth(processorName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(processorName)).Set(float64(depth))
}

func (m *MetricsExporter) RecordStepDuration(processorName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDurationSeconds.WithLabelValues(normalizeLabel(processorName)).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordTaskPanic(processorName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(processorName)).Inc()
}

func (m *MetricsExporter) RecordTaskOverload(processorName string) {
	if m == nil {
		return
	}
	m.taskOverloadTotal.WithLabelValues(normalizeLabel(processorName)).Inc()
}

func (m *MetricsExporter) RecordTaskCancelOverload(processorName string) {
	if m == nil {
		return
	}
	m.taskCancelOverloadTotal.WithLabelValues(normalizeLabel(processorName)).Inc()
}

func (m *MetricsExporter) RecordTaskSwitchSlow(processorName string) {
	if m == nil {
		return
	}
	m.taskSwitchSlowTotal.WithLabelValues(normalizeLabel(processorName)).Inc()
}

func (m *MetricsExporter) RecordQueueWaitTimeOverloaded(processorName string, overloaded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if overloaded {
		v = 1.0
	}
	m.queueWaitTimeOverloaded.WithLabelValues(normalizeLabel(processorName)).Set(v)
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
