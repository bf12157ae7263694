// SPDX-License-Identifier: AGPL-3.0-or-later
// rocon-gateway - a multi-master publish/subscribe bridge
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the gateway's Prometheus surface: watcher tick
// health, per-interface connection counts, flip protocol traffic, hub
// liveness, and the KV store it all rides on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the gateway registers. A single instance is
// created at startup and threaded into the watcher and hub manager; the KV
// stores do not receive it.
type Metrics struct {
	WatcherTickDuration  prometheus.Histogram
	WatcherTickErrors    *prometheus.CounterVec
	AdvertisedTotal      *prometheus.GaugeVec
	FlipsPostedTotal     *prometheus.CounterVec
	FlipsReceivedTotal   *prometheus.CounterVec
	PulledTotal          prometheus.Gauge
	HubConnectedGauge    *prometheus.GaugeVec
	HubPingLatencySecond *prometheus.HistogramVec

	KVOperationsTotal   *prometheus.CounterVec
	KVOperationDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every collector against the default
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		WatcherTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_watcher_tick_duration_seconds",
			Help:    "Duration of a full watcher reconciliation tick",
			Buckets: prometheus.DefBuckets,
		}),
		WatcherTickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_watcher_tick_errors_total",
			Help: "Errors encountered per watcher reconciliation stage",
		}, []string{"stage"}),
		AdvertisedTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_advertised_connections",
			Help: "Connections currently advertised on the public interface, by type",
		}, []string{"type"}),
		FlipsPostedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_flips_posted_total",
			Help: "Flip rule posts made to remote gateway inboxes",
		}, []string{"receiver"}),
		FlipsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_flips_received_total",
			Help: "Inbox entries realized from remote gateways, by decision",
		}, []string{"decision"}),
		PulledTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pulled_connections",
			Help: "Connections currently registered locally via pull rules",
		}),
		HubConnectedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_hub_connected",
			Help: "1 if this gateway is currently connected to the named hub, else 0",
		}, []string{"hub"}),
		HubPingLatencySecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_hub_ping_latency_seconds",
			Help:    "Round-trip latency of the hub liveness ping",
			Buckets: prometheus.DefBuckets,
		}, []string{"hub"}),
		KVOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_kv_operations_total",
			Help: "The total number of KV operations performed",
		}, []string{"operation", "status"}),
		KVOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_kv_operation_duration_seconds",
			Help:    "Duration of KV operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.WatcherTickDuration,
		m.WatcherTickErrors,
		m.AdvertisedTotal,
		m.FlipsPostedTotal,
		m.FlipsReceivedTotal,
		m.PulledTotal,
		m.HubConnectedGauge,
		m.HubPingLatencySecond,
		m.KVOperationsTotal,
		m.KVOperationDuration,
	)
}

// RecordTick records one watcher tick's duration.
func (m *Metrics) RecordTick(seconds float64) {
	m.WatcherTickDuration.Observe(seconds)
}

// RecordTickError tags a failed reconciliation stage (snapshot, public,
// flipped, pulled, inbox, stats).
func (m *Metrics) RecordTickError(stage string) {
	m.WatcherTickErrors.WithLabelValues(stage).Inc()
}

// SetAdvertised sets the current advertised-connection gauge for one
// connection type.
func (m *Metrics) SetAdvertised(connType string, count float64) {
	m.AdvertisedTotal.WithLabelValues(connType).Set(count)
}

// RecordFlipPosted records one outbound flip post to receiver.
func (m *Metrics) RecordFlipPosted(receiver string) {
	m.FlipsPostedTotal.WithLabelValues(receiver).Inc()
}

// RecordFlipReceived records one inbox entry resolved to decision
// (registered/blocked/skipped).
func (m *Metrics) RecordFlipReceived(decision string) {
	m.FlipsReceivedTotal.WithLabelValues(decision).Inc()
}

// SetPulled sets the current pulled-connection gauge.
func (m *Metrics) SetPulled(count float64) {
	m.PulledTotal.Set(count)
}

// SetHubConnected records whether hub is currently reachable.
func (m *Metrics) SetHubConnected(hub string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.HubConnectedGauge.WithLabelValues(hub).Set(value)
}

// RecordHubPingLatency records one round-trip ping latency sample for hub.
func (m *Metrics) RecordHubPingLatency(hub string, seconds float64) {
	m.HubPingLatencySecond.WithLabelValues(hub).Observe(seconds)
}

// RecordKVOperation records the outcome and duration of a single KV call.
func (m *Metrics) RecordKVOperation(operation, status string, duration float64) {
	m.KVOperationsTotal.WithLabelValues(operation, status).Inc()
	m.KVOperationDuration.WithLabelValues(operation).Observe(duration)
}
