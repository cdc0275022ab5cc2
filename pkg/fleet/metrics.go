// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of a fleet. Each fleet uses its own
// registry so tests and multiple fleets in one process don't collide.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	Connected       *prometheus.GaugeVec
	ConnectsTotal   *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec

	// Protocol metrics
	FramesSent     *prometheus.CounterVec
	ProtocolErrors *prometheus.CounterVec
	EventsDropped  prometheus.Counter
}

// NewMetrics creates and registers all fleet metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Connected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "panelsim_device_connected",
				Help: "1 while the device has an open transport",
			},
			[]string{"phone"},
		),

		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelsim_device_connects_total",
				Help: "Total number of successful connections",
			},
			[]string{"phone"},
		),

		TransportErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelsim_transport_errors_total",
				Help: "Total number of transport errors (connect, read)",
			},
			[]string{"phone"},
		),

		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelsim_frames_sent_total",
				Help: "Total number of frames handed to the transport",
			},
			[]string{"phone"},
		),

		ProtocolErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelsim_protocol_errors_total",
				Help: "Total number of protocol signals by kind",
			},
			[]string{"phone", "kind"}, // kind: crc, sequence, unknown_command, peer, file, malformed
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "panelsim_events_dropped_total",
				Help: "Events discarded because no consumer kept up",
			},
		),
	}
}

// Register adds a collector to the fleet registry
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Gatherer exposes the registry, mainly for tests
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statsCollector exports the per-engine frame counters of every device
type statsCollector struct {
	registry *Registry

	framesReceived *prometheus.Desc
	syncs          *prometheus.Desc
	replays        *prometheus.Desc
}

func newStatsCollector(r *Registry) *statsCollector {
	return &statsCollector{
		registry: r,
		framesReceived: prometheus.NewDesc(
			"panelsim_frames_received_total",
			"Total number of frames received by the device engine",
			[]string{"phone"}, nil,
		),
		syncs: prometheus.NewDesc(
			"panelsim_sync_handshakes_total",
			"Total number of sync handshakes answered",
			[]string{"phone"}, nil,
		),
		replays: prometheus.NewDesc(
			"panelsim_replays_total",
			"Total number of cached replies retransmitted",
			[]string{"phone"}, nil,
		),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesReceived
	ch <- c.syncs
	ch <- c.replays
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range c.registry.Devices() {
		st := d.Stats()
		ch <- prometheus.MustNewConstMetric(c.framesReceived, prometheus.CounterValue, float64(st.FramesReceived), d.Phone())
		ch <- prometheus.MustNewConstMetric(c.syncs, prometheus.CounterValue, float64(st.Syncs), d.Phone())
		ch <- prometheus.MustNewConstMetric(c.replays, prometheus.CounterValue, float64(st.Replays), d.Phone())
	}
}
