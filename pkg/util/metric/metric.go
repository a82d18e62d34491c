// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package metric provides server metrics backed by Prometheus collectors.
// Metrics are registered into a Registry which can be exposed through the
// standard promhttp handler.
package metric

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metadata holds the name and help text describing a metric.
type Metadata struct {
	Name string
	Help string
}

// A Counter holds a single monotonically increasing value.
type Counter struct {
	Metadata
	prom  prometheus.Counter
	count atomic.Int64
}

// NewCounter creates a counter.
func NewCounter(metadata Metadata) *Counter {
	return &Counter{
		Metadata: metadata,
		prom: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metadata.Name,
			Help: metadata.Help,
		}),
	}
}

// Inc increments the counter by v. Decrements are ignored.
func (c *Counter) Inc(v int64) {
	if v <= 0 {
		return
	}
	c.count.Add(v)
	c.prom.Add(float64(v))
}

// Count returns the current value.
func (c *Counter) Count() int64 {
	return c.count.Load()
}

func (c *Counter) collector() prometheus.Collector { return c.prom }

// A Gauge holds a single settable value.
type Gauge struct {
	Metadata
	prom  prometheus.Gauge
	value atomic.Int64
}

// NewGauge creates a gauge.
func NewGauge(metadata Metadata) *Gauge {
	return &Gauge{
		Metadata: metadata,
		prom: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metadata.Name,
			Help: metadata.Help,
		}),
	}
}

// Update sets the gauge to v.
func (g *Gauge) Update(v int64) {
	g.value.Store(v)
	g.prom.Set(float64(v))
}

// Inc adds v to the gauge.
func (g *Gauge) Inc(v int64) {
	g.value.Add(v)
	g.prom.Add(float64(v))
}

// Dec subtracts v from the gauge.
func (g *Gauge) Dec(v int64) {
	g.Inc(-v)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

func (g *Gauge) collector() prometheus.Collector { return g.prom }

// Iterable is implemented by metrics that can register themselves with
// Prometheus.
type Iterable interface {
	collector() prometheus.Collector
}

// A Registry bundles related metrics for exposure.
type Registry struct {
	promReg *prometheus.Registry
}

// NewRegistry creates a Registry.
func NewRegistry() *Registry {
	return &Registry{promReg: prometheus.NewRegistry()}
}

// AddMetric registers a metric.
func (r *Registry) AddMetric(m Iterable) {
	r.promReg.MustRegister(m.collector())
}

// Gatherer returns the underlying Prometheus gatherer, for use with
// promhttp.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.promReg
}
