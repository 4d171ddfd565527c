package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates the metrics of one namespace.
type Collector interface {
	// RegisterCounter registers a counter vector with the given label names.
	RegisterCounter(name string, labelNames ...string) (*prometheus.CounterVec, error)
	// AddCounter adds value to the counter with the given label values.
	AddCounter(name string, value float64, labelValues ...string) error
	// RegisterHistogram registers a histogram vector with the given label names.
	RegisterHistogram(name string, labelNames ...string) (*prometheus.HistogramVec, error)
	// ObserveHistogram records value in the histogram with the given label values.
	ObserveHistogram(name string, value float64, labelValues ...string) error
	// RegisterGauge registers a gauge vector with the given label names.
	RegisterGauge(name string, labelNames ...string) (*prometheus.GaugeVec, error)
	// SetGauge sets the gauge with the given label values.
	SetGauge(name string, value float64, labelValues ...string) error
	// MeasureFunctionExecutionTime starts a timer for function; calling the returned func
	// records the elapsed time.
	MeasureFunctionExecutionTime(function string) (func(), error)
	// MetricsHandler serves the namespace's registry in the Prometheus exposition format.
	MetricsHandler() http.Handler
}

type prometheusCollector struct {
	registry   *prometheus.Registry
	namespace  string
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mu         sync.Mutex
}

type contextKey string

const collectorKey contextKey = "metrics"

// New returns a Collector backed by its own registry. Go runtime and process metrics are
// registered alongside the namespace's own metrics.
func New(namespace string) Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &prometheusCollector{
		registry:   registry,
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// WithMetrics returns a new context carrying a Collector for namespace.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, collectorKey, New(namespace))
}

// FromContext returns the Collector carried by ctx, or a new one for namespace.
func FromContext(ctx context.Context, namespace string) Collector {
	if c, ok := ctx.Value(collectorKey).(Collector); ok {
		return c
	}
	return New(namespace)
}

func (c *prometheusCollector) fullName(name string) string {
	return c.namespace + "_" + name
}

func (c *prometheusCollector) RegisterCounter(name string, labelNames ...string) (*prometheus.CounterVec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.fullName(name)
	if _, ok := c.counters[key]; ok {
		return nil, fmt.Errorf("counter '%s' already registered", key)
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      "Counter for " + key,
	}, labelNames)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register counter '%s': %w", key, err)
	}
	c.counters[key] = vec
	return vec, nil
}

func (c *prometheusCollector) AddCounter(name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	vec, ok := c.counters[c.fullName(name)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("counter '%s' not found", c.fullName(name))
	}
	counter, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("counter '%s': %w", c.fullName(name), err)
	}
	counter.Add(value)
	return nil
}

func (c *prometheusCollector) RegisterHistogram(name string, labelNames ...string) (*prometheus.HistogramVec, error) {
	return c.registerHistogram(name, "Histogram for "+c.fullName(name), prometheus.DefBuckets, labelNames...)
}

func (c *prometheusCollector) registerHistogram(name, help string, buckets []float64,
	labelNames ...string) (*prometheus.HistogramVec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.fullName(name)
	if _, ok := c.histograms[key]; ok {
		return nil, fmt.Errorf("histogram '%s' already registered", key)
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register histogram '%s': %w", key, err)
	}
	c.histograms[key] = vec
	return vec, nil
}

func (c *prometheusCollector) ObserveHistogram(name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	vec, ok := c.histograms[c.fullName(name)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("histogram '%s' not found", c.fullName(name))
	}
	observer, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("histogram '%s': %w", c.fullName(name), err)
	}
	observer.Observe(value)
	return nil
}

func (c *prometheusCollector) RegisterGauge(name string, labelNames ...string) (*prometheus.GaugeVec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.fullName(name)
	if _, ok := c.gauges[key]; ok {
		return nil, fmt.Errorf("gauge '%s' already registered", key)
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      "Gauge for " + key,
	}, labelNames)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register gauge '%s': %w", key, err)
	}
	c.gauges[key] = vec
	return vec, nil
}

func (c *prometheusCollector) SetGauge(name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	vec, ok := c.gauges[c.fullName(name)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("gauge '%s' not found", c.fullName(name))
	}
	gauge, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("gauge '%s': %w", c.fullName(name), err)
	}
	gauge.Set(value)
	return nil
}

func (c *prometheusCollector) MeasureFunctionExecutionTime(function string) (func(), error) {
	const name = "function_duration_seconds"
	c.mu.Lock()
	_, ok := c.histograms[c.fullName(name)]
	c.mu.Unlock()
	if !ok {
		_, err := c.registerHistogram(name, "Time spent executing functions.",
			[]float64{0.25, 0.5, 1, 5, 30, 60, 300, 900, 3000}, "function")
		if err != nil {
			return nil, err
		}
	}
	start := time.Now()
	return func() {
		_ = c.ObserveHistogram(name, time.Since(start).Seconds(), function)
	}, nil
}

func (c *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
