package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/urban-physiology/glossarizer/internal/progress"
)

// PrometheusSink exports glossarization progress metrics. It owns all
// collectors for passes started/completed/running and per-portal resource
// outcome counters.
type PrometheusSink struct {
	passesStarted   prometheus.Counter
	passesCompleted *prometheus.CounterVec
	passesRunning   prometheus.Gauge
	passRuntime     *prometheus.HistogramVec

	resourcesProcessed *prometheus.CounterVec
	descriptorBytes    *prometheus.CounterVec
	resourceDuration   *prometheus.HistogramVec

	tracker *passTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		passesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glossarizer_passes_started_total",
			Help: "Total passes that have started.",
		}),
		passesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glossarizer_passes_completed_total",
			Help: "Total passes completed partitioned by result.",
		}, []string{"result"}),
		passesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glossarizer_passes_running",
			Help: "Current number of running passes.",
		}),
		passRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glossarizer_pass_runtime_seconds",
			Help:    "Wall time per completed pass.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		resourcesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glossarizer_resources_processed_total",
			Help: "Resource completions partitioned by portal and outcome.",
		}, []string{"portal", "outcome"}),
		descriptorBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glossarizer_descriptor_bytes_total",
			Help: "Serialized descriptor bytes emitted per portal.",
		}, []string{"portal"}),
		resourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glossarizer_resource_duration_seconds",
			Help:    "Resource processing duration partitioned by portal and outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"portal", "outcome"}),
		tracker: newPassTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.passesStarted,
		s.passesCompleted,
		s.passesRunning,
		s.passRuntime,
		s.resourcesProcessed,
		s.descriptorBytes,
		s.resourceDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePassStart, progress.StagePassDone, progress.StagePassError:
		s.handlePassEvent(evt)
	case progress.StageResourceDone:
		s.handleResourceEvent(evt)
	}
}

func (s *PrometheusSink) handlePassEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePassStart:
		s.passesStarted.Inc()
		if s.tracker.start(evt.PassID) {
			s.passesRunning.Inc()
		}
	case progress.StagePassDone:
		s.passesCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StagePassError:
		s.passesCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StagePassStart && s.tracker.complete(evt.PassID) {
		s.passesRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.passRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleResourceEvent(evt progress.Event) {
	portal := evt.Portal
	if portal == "" {
		portal = "unknown"
	}
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeFailed)
	}
	s.resourcesProcessed.WithLabelValues(portal, outcome).Inc()
	if evt.Bytes > 0 {
		s.descriptorBytes.WithLabelValues(portal).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.resourceDuration.WithLabelValues(portal, outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type passTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newPassTracker() *passTracker {
	return &passTracker{running: make(map[[16]byte]struct{})}
}

func (t *passTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *passTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
