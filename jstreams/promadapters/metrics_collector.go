// Package promadapters implements jstreams.MetricsCollector on the Prometheus client library.
package promadapters

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

// MetricsCollector maps durations onto HistogramVecs (seconds), counters onto CounterVecs and values onto GaugeVecs.
//
// A vector is created and registered the first time its metric name is seen; the label keys of that first
// call become the vector's label names. Later calls fill missing labels with "" and drop unknown ones.
type MetricsCollector struct {
	reg     prometheus.Registerer
	buckets []float64

	mu         sync.Mutex
	histograms map[string]*vec[*prometheus.HistogramVec]
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
}

type vec[V prometheus.Collector] struct {
	collector  V
	labelNames []string
}

// Option configures a MetricsCollector.
type Option func(*MetricsCollector)

// WithBuckets replaces prometheus.DefBuckets for all duration histograms.
func WithBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) {
		m.buckets = buckets
	}
}

// NewMetricsCollector creates a collector registering on reg, or on prometheus.DefaultRegisterer if reg is nil.
func NewMetricsCollector(reg prometheus.Registerer, options ...Option) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MetricsCollector{
		reg:        reg,
		buckets:    prometheus.DefBuckets,
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	v := lookup(m, m.histograms, metric, labels, func(labelNames []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    "jstreams operation duration in seconds.",
			Buckets: m.buckets,
		}, labelNames)
	})
	m.mu.Unlock()

	if v != nil {
		v.collector.WithLabelValues(v.values(labels)...).Observe(duration.Seconds())
	}
}

func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	m.mu.Lock()
	v := lookup(m, m.counters, metric, labels, func(labelNames []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: "jstreams operation counter.",
		}, labelNames)
	})
	m.mu.Unlock()

	if v != nil {
		v.collector.WithLabelValues(v.values(labels)...).Inc()
	}
}

func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	v := lookup(m, m.gauges, metric, labels, func(labelNames []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metric,
			Help: "jstreams current value.",
		}, labelNames)
	})
	m.mu.Unlock()

	if v != nil {
		v.collector.WithLabelValues(v.values(labels)...).Set(value)
	}
}

// lookup returns the vector for metric, creating and registering it on first use.
// It returns nil if registration failed for any reason other than an identical collector being registered already.
// The caller holds m.mu.
func lookup[V prometheus.Collector](
	m *MetricsCollector,
	vecs map[string]*vec[V],
	metric string,
	labels map[string]string,
	create func(labelNames []string) V,
) *vec[V] {
	if v, ok := vecs[metric]; ok {
		return v
	}

	labelNames := make([]string, 0, len(labels))
	for key := range labels {
		labelNames = append(labelNames, key)
	}
	slices.Sort(labelNames)

	v := &vec[V]{collector: create(labelNames), labelNames: labelNames}

	if err := m.reg.Register(v.collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil
		}

		existing, ok := already.ExistingCollector.(V)
		if !ok {
			return nil
		}

		v.collector = existing
	}

	vecs[metric] = v

	return v
}

func (v *vec[V]) values(labels map[string]string) []string {
	values := make([]string, len(v.labelNames))
	for i, name := range v.labelNames {
		values[i] = labels[name]
	}

	return values
}

var _ jstreams.MetricsCollector = (*MetricsCollector)(nil)
