package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/fdr400/userver/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ProcessorSnapshotProvider provides current TaskProcessor stats
// snapshots. *core.TaskProcessor satisfies it via its Stats method.
type ProcessorSnapshotProvider interface {
	Stats() core.ProcessorStats
}

// SnapshotPoller periodically exports TaskProcessor.Stats() snapshots
// into Prometheus gauges: worker count, queue size, live-task count and
// the queue_wait_time_overloaded flag. Workers and live tasks have no
// per-event Metrics hook; queue size and the flag are also recorded by
// the Metrics hooks as they change.
type SnapshotPoller struct {
	interval time.Duration

	processorsMu sync.RWMutex
	processors   map[string]ProcessorSnapshotProvider

	workers                 *prom.GaugeVec
	queueSize               *prom.GaugeVec
	liveTasks               *prom.GaugeVec
	queueWaitTimeOverloaded *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its
// collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "userver",
		Name:      "processor_workers",
		Help:      "Configured worker goroutine count per processor.",
	}, []string{"processor"})
	queueSize := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "userver",
		Name:      "processor_queue_size",
		Help:      "Handles currently queued per processor.",
	}, []string{"processor"})
	liveTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "userver",
		Name:      "processor_live_tasks",
		Help:      "Tasks tracked as live (queued, running, or detached and unfinished) per processor.",
	}, []string{"processor"})
	queueWaitTimeOverloaded := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "userver",
		Name:      "processor_queue_wait_time_overloaded",
		Help:      "Snapshot of the queue_wait_time_overloaded flag per processor.",
	}, []string{"processor"})

	var err error
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}
	if queueSize, err = registerCollector(reg, queueSize); err != nil {
		return nil, err
	}
	if liveTasks, err = registerCollector(reg, liveTasks); err != nil {
		return nil, err
	}
	if queueWaitTimeOverloaded, err = registerCollector(reg, queueWaitTimeOverloaded); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:                interval,
		processors:              make(map[string]ProcessorSnapshotProvider),
		workers:                 workers,
		queueSize:               queueSize,
		liveTasks:               liveTasks,
		queueWaitTimeOverloaded: queueWaitTimeOverloaded,
	}, nil
}

// AddProcessor adds or replaces a processor snapshot provider by name.
func (p *SnapshotPoller) AddProcessor(name string, provider ProcessorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name)
	p.processorsMu.Lock()
	p.processors[name] = provider
	p.processorsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling and waits for the poll loop to exit;
// repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.processorsMu.RLock()
	defer p.processorsMu.RUnlock()

	for name, provider := range p.processors {
		stats := provider.Stats()
		p.workers.WithLabelValues(name).Set(float64(stats.Workers))
		p.queueSize.WithLabelValues(name).Set(float64(stats.QueueSize))
		p.liveTasks.WithLabelValues(name).Set(float64(stats.LiveTasks))
		if stats.QueueWaitTimeOverloaded {
			p.queueWaitTimeOverloaded.WithLabelValues(name).Set(1)
		} else {
			p.queueWaitTimeOverloaded.WithLabelValues(name).Set(0)
		}
	}
}
