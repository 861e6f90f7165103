package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricInstruments holds cached metric instruments for efficient recording.
type MetricInstruments struct {
	meter         metric.Meter
	counters      map[string]metric.Int64Counter
	floatCounters map[string]metric.Float64Counter
	histograms    map[string]metric.Float64Histogram
	mu            sync.RWMutex
}

// NewMetricInstruments creates a new metrics instrument cache.
func NewMetricInstruments(meterName string) *MetricInstruments {
	return &MetricInstruments{
		meter:         otel.Meter(meterName),
		counters:      make(map[string]metric.Int64Counter),
		floatCounters: make(map[string]metric.Float64Counter),
		histograms:    make(map[string]metric.Float64Histogram),
	}
}

// RecordCounter increments a counter metric.
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if counter, exists = m.counters[name]; !exists {
			var err error
			counter, err = m.meter.Int64Counter(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create counter %s: %w", name, err)
			}
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	counter.Add(ctx, value, opts...)
	return nil
}

// RecordFloatCounter increments a float counter metric (confidence scores, weights, etc.)
func (m *MetricInstruments) RecordFloatCounter(ctx context.Context, name string, value float64, opts ...metric.AddOption) error {
	m.mu.RLock()
	counter, exists := m.floatCounters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if counter, exists = m.floatCounters[name]; !exists {
			var err error
			counter, err = m.meter.Float64Counter(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create float counter %s: %w", name, err)
			}
			m.floatCounters[name] = counter
		}
		m.mu.Unlock()
	}

	counter.Add(ctx, value, opts...)
	return nil
}

// RecordGauge records a point-in-time measurement (uncertainty score,
// aggregate score) via the histogram instrument.
func (m *MetricInstruments) RecordGauge(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	return m.RecordHistogram(ctx, name, value, opts...)
}

// RecordHistogram records a value distribution (like latencies or scores).
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			var err error
			histogram, err = m.meter.Float64Histogram(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create histogram %s: %w", name, err)
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.Record(ctx, value, opts...)
	return nil
}

// RecordError increments an error counter tagged with the error type.
func (m *MetricInstruments) RecordError(ctx context.Context, name string, errorType string) error {
	return m.RecordCounter(ctx, name, 1,
		metric.WithAttributes(attribute.String("error.type", errorType)))
}

// Deliberation metric name constants.
const (
	MetricUncertaintyScore    = "uncertainty.score"
	MetricFusionAggregate     = "fusion.aggregate_score"
	MetricRouterRetries       = "router.retries"
	MetricRouterLatency       = "router.latency_ms"
	MetricCriticLatency       = "critic.latency_ms"
	MetricCriticConfidence    = "critic.confidence"
	MetricPrecedentLookups    = "precedent.lookups"
	MetricPrecedentErrors     = "precedent.errors"
	MetricRuntimeActiveTasks  = "runtime.active_tasks"
	MetricRuntimeCompleted    = "runtime.completed_tasks"
	MetricRuntimeFailed       = "runtime.failed_tasks"
)
