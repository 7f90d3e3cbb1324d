// Package metrics exposes relay activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/usage"
)

// Namespace prefixes every metric name.
const Namespace = "postrelay"

// Metrics holds the relay collectors.
type Metrics struct {
	TicksTotal            *prometheus.CounterVec
	FetchFailuresTotal    *prometheus.CounterVec
	ItemsDeliveredTotal   *prometheus.CounterVec
	DeliveryFailuresTotal *prometheus.CounterVec
	TickDurationSeconds   *prometheus.HistogramVec
	ActiveSources         prometheus.Gauge

	reg prometheus.Registerer
}

// New creates the collectors and registers them on reg. A nil reg uses
// the default registerer. A registerer already holding relay collectors is
// rejected with an error wrapping [prometheus.AlreadyRegisteredError] and
// left as it was.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ticks_total",
				Help:      "Scans performed, by source and kind (initial or tick)",
			},
			[]string{"source", "kind"},
		),
		FetchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "fetch_failures_total",
				Help:      "Scans that failed to fetch their source",
			},
			[]string{"source"},
		),
		ItemsDeliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "items_delivered_total",
				Help:      "Items forwarded successfully",
			},
			[]string{"source"},
		),
		DeliveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "delivery_failures_total",
				Help:      "Items whose delivery failed",
			},
			[]string{"source"},
		),
		TickDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "tick_duration_seconds",
				Help:      "Scan duration including pacing delays",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"source"},
		),
		ActiveSources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_sources",
				Help:      "Sources with an armed polling timer",
			},
		),
		reg: reg,
	}

	err := m.register(
		m.TicksTotal,
		m.FetchFailuresTotal,
		m.ItemsDeliveredTotal,
		m.DeliveryFailuresTotal,
		m.TickDurationSeconds,
		m.ActiveSources,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds cs to the registerer, all or nothing.
func (m *Metrics) register(cs ...prometheus.Collector) error {
	for i, c := range cs {
		if err := m.reg.Register(c); err != nil {
			for _, done := range cs[:i] {
				m.reg.Unregister(done)
			}
			return fmt.Errorf("registering relay metrics: %w", err)
		}
	}
	return nil
}

// ObserveTick records one scan report.
func (m *Metrics) ObserveTick(rep poller.TickReport) {
	m.TicksTotal.WithLabelValues(rep.Source, string(rep.Kind)).Inc()
	m.TickDurationSeconds.WithLabelValues(rep.Source).Observe(rep.Duration.Seconds())

	var ferr *poller.FetchError
	if errors.As(rep.Err, &ferr) {
		m.FetchFailuresTotal.WithLabelValues(rep.Source).Inc()
	}
	if rep.Delivered > 0 {
		m.ItemsDeliveredTotal.WithLabelValues(rep.Source).Add(float64(rep.Delivered))
	}
	if rep.Failed > 0 {
		m.DeliveryFailuresTotal.WithLabelValues(rep.Source).Add(float64(rep.Failed))
	}
}

// WatchUsage exports the meter's current day, week and month totals as
// postrelay_usage_bytes{period}. The meter is read on every scrape, so bytes
// recorded by any component or process sharing it are included.
func (m *Metrics) WatchUsage(meter usage.Meter) error {
	periods := []struct {
		name string
		pick func(usage.Stats) int64
	}{
		{"today", func(st usage.Stats) int64 { return st.Today }},
		{"week", func(st usage.Stats) int64 { return st.ThisWeek }},
		{"month", func(st usage.Stats) int64 { return st.ThisMonth }},
	}
	gauges := make([]prometheus.Collector, 0, len(periods))
	for _, p := range periods {
		gauges = append(gauges, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   Namespace,
				Name:        "usage_bytes",
				Help:        "Network bytes recorded in the current usage period",
				ConstLabels: prometheus.Labels{"period": p.name},
			},
			func() float64 {
				st, err := meter.Stats(context.Background())
				if err != nil {
					return 0
				}
				return float64(p.pick(st))
			},
		))
	}
	return m.register(gauges...)
}

// SetActive records the number of armed sources.
func (m *Metrics) SetActive(n int) {
	m.ActiveSources.Set(float64(n))
}
