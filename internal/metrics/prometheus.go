package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// functionDurationName is the histogram fed by MeasureFunctionExecutionTime.
const functionDurationName = "function_duration_seconds"

// Collector registers and updates labelled prometheus metrics by name.
type Collector interface {
	// RegisterCounter registers a counter vector with the given label names.
	RegisterCounter(ctx context.Context, name string, labels ...string) (*prometheus.CounterVec, error)
	// AddCounter adds value to the counter for the given label values.
	AddCounter(ctx context.Context, name string, value float64, labels ...string) error
	// UnregisterCounter removes a counter. Unknown counters are ignored.
	UnregisterCounter(ctx context.Context, name string, labels ...string) error
	// RegisterGauge registers a gauge vector with the given label names.
	RegisterGauge(ctx context.Context, name string, labels ...string) (*prometheus.GaugeVec, error)
	// SetGauge sets the gauge for the given label values.
	SetGauge(ctx context.Context, name string, value float64, labels ...string) error
	// AddGauge adds value, which may be negative, to the gauge for the given label values.
	AddGauge(ctx context.Context, name string, value float64, labels ...string) error
	// UnregisterGauge removes a gauge. Unknown gauges are ignored.
	UnregisterGauge(ctx context.Context, name string, labels ...string) error
	// RegisterHistogram registers a histogram vector with the given label names.
	RegisterHistogram(ctx context.Context, name string, labels ...string) (*prometheus.HistogramVec, error)
	// ObserveHistogram records an observation for the given label values.
	ObserveHistogram(ctx context.Context, name string, value float64, labels ...string) error
	// AddHistogram is an alias of ObserveHistogram.
	AddHistogram(ctx context.Context, name string, value float64, labels ...string) error
	// UnregisterHistogram removes a histogram. Unknown histograms are ignored.
	UnregisterHistogram(ctx context.Context, name string, labels ...string) error
	// MeasureFunctionExecutionTime starts a timer; calling the returned func records the duration.
	MeasureFunctionExecutionTime(ctx context.Context, function string) (func(), error)
	// MetricsHandler serves the registry in the prometheus exposition format.
	MetricsHandler() http.Handler
}

type prometheusCollector struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	namespace  string
	mu         sync.RWMutex
}

type contextKey string

const collectorKey contextKey = "metrics"

// New creates a Collector with its own registry, including the Go and process collectors.
func New(namespace string) Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &prometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		namespace:  namespace,
	}
}

// WithMetrics returns a new context carrying a fresh Collector.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, collectorKey, New(namespace))
}

// FromContext returns the Collector stored in ctx, or a new one when there is none.
func FromContext(ctx context.Context, namespace string) Collector {
	if c, ok := ctx.Value(collectorKey).(Collector); ok {
		return c
	}
	return New(namespace)
}

func (p *prometheusCollector) key(name string) string {
	return p.namespace + "_" + name
}

func (p *prometheusCollector) RegisterCounter(_ context.Context, name string, labels ...string) (*prometheus.CounterVec, error) {
	key := p.key(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.counters[key]; ok {
		return nil, fmt.Errorf("counter '%s' already registered", key)
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Counter for " + key,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register counter '%s': %w", key, err)
	}
	p.counters[key] = vec
	return vec, nil
}

func (p *prometheusCollector) AddCounter(_ context.Context, name string, value float64, labels ...string) error {
	key := p.key(name)
	p.mu.RLock()
	vec, ok := p.counters[key]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("counter '%s' not found", key)
	}
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return fmt.Errorf("counter '%s': %w", key, err)
	}
	c.Add(value)
	return nil
}

func (p *prometheusCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	key := p.key(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[key]; ok {
		p.registry.Unregister(vec)
		delete(p.counters, key)
	}
	return nil
}

func (p *prometheusCollector) RegisterGauge(_ context.Context, name string, labels ...string) (*prometheus.GaugeVec, error) {
	key := p.key(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.gauges[key]; ok {
		return nil, fmt.Errorf("gauge '%s' already registered", key)
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Gauge for " + key,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register gauge '%s': %w", key, err)
	}
	p.gauges[key] = vec
	return vec, nil
}

func (p *prometheusCollector) gauge(name string, labels []string) (prometheus.Gauge, error) {
	key := p.key(name)
	p.mu.RLock()
	vec, ok := p.gauges[key]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gauge '%s' not found", key)
	}
	g, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return nil, fmt.Errorf("gauge '%s': %w", key, err)
	}
	return g, nil
}

func (p *prometheusCollector) SetGauge(_ context.Context, name string, value float64, labels ...string) error {
	g, err := p.gauge(name, labels)
	if err != nil {
		return err
	}
	g.Set(value)
	return nil
}

func (p *prometheusCollector) AddGauge(_ context.Context, name string, value float64, labels ...string) error {
	g, err := p.gauge(name, labels)
	if err != nil {
		return err
	}
	g.Add(value)
	return nil
}

func (p *prometheusCollector) UnregisterGauge(_ context.Context, name string, _ ...string) error {
	key := p.key(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.gauges[key]; ok {
		p.registry.Unregister(vec)
		delete(p.gauges, key)
	}
	return nil
}

func (p *prometheusCollector) RegisterHistogram(_ context.Context, name string, labels ...string) (*prometheus.HistogramVec, error) {
	return p.registerHistogram(name, "Histogram for "+p.key(name), prometheus.DefBuckets, labels, false)
}

// registerHistogram returns the existing vector instead of failing when reuse is set.
func (p *prometheusCollector) registerHistogram(name, help string, buckets []float64, labels []string, reuse bool) (*prometheus.HistogramVec, error) {
	key := p.key(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.histograms[key]; ok {
		if reuse {
			return vec, nil
		}
		return nil, fmt.Errorf("histogram '%s' already registered", key)
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register histogram '%s': %w", key, err)
	}
	p.histograms[key] = vec
	return vec, nil
}

func (p *prometheusCollector) ObserveHistogram(_ context.Context, name string, value float64, labels ...string) error {
	key := p.key(name)
	p.mu.RLock()
	vec, ok := p.histograms[key]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("histogram '%s' not found", key)
	}
	h, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return fmt.Errorf("histogram '%s': %w", key, err)
	}
	h.Observe(value)
	return nil
}

func (p *prometheusCollector) AddHistogram(ctx context.Context, name string, value float64, labels ...string) error {
	return p.ObserveHistogram(ctx, name, value, labels...)
}

func (p *prometheusCollector) UnregisterHistogram(_ context.Context, name string, _ ...string) error {
	key := p.key(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.histograms[key]; ok {
		p.registry.Unregister(vec)
		delete(p.histograms, key)
	}
	return nil
}

func (p *prometheusCollector) MeasureFunctionExecutionTime(_ context.Context, function string) (func(), error) {
	vec, err := p.registerHistogram(functionDurationName, "Time spent executing functions.",
		[]float64{0.01, 0.05, 0.25, 0.5, 1, 5, 30, 120}, []string{"function"}, true)
	if err != nil {
		return nil, err
	}
	observer, err := vec.GetMetricWithLabelValues(function)
	if err != nil {
		return nil, fmt.Errorf("histogram '%s': %w", p.key(functionDurationName), err)
	}
	start := time.Now()
	return func() {
		observer.Observe(time.Since(start).Seconds())
	}, nil
}

func (p *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
