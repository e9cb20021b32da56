// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package proxy

import (
	"github.com/kacheio/prerender/pkg/refresh"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the proxy's Prometheus collectors. A nil *metrics (the
// zero value produced when no Registerer is configured) makes every
// method a no-op, so the handler never needs to branch on whether
// metrics are enabled.
type metrics struct {
	cacheResults    *prometheus.CounterVec
	fillsInFlight   prometheus.Gauge
	backendDuration prometheus.Histogram
	refreshCommands *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prerender",
			Subsystem: "cache",
			Name:      "results_total",
			Help:      "Count of proxy requests by cache result (hit, miss, error).",
		}, []string{"result"}),
		fillsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prerender",
			Subsystem: "cache",
			Name:      "fills_in_flight",
			Help:      "Number of backend fills currently in flight.",
		}),
		backendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prerender",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests issued to the backend origin.",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prerender",
			Subsystem: "refresh",
			Name:      "commands_total",
			Help:      "Count of refresh bus commands observed by this cache, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.cacheResults, m.fillsInFlight, m.backendDuration, m.refreshCommands)
	return m
}

func (m *metrics) observeCacheResult(result string) {
	if m == nil {
		return
	}
	m.cacheResults.WithLabelValues(result).Inc()
}

func (m *metrics) fillStarted() {
	if m == nil {
		return
	}
	m.fillsInFlight.Inc()
}

func (m *metrics) fillFinished(seconds float64) {
	if m == nil {
		return
	}
	m.fillsInFlight.Dec()
	m.backendDuration.Observe(seconds)
}

func (m *metrics) observeRefreshCommand(cmd refresh.Command) {
	if m == nil {
		return
	}
	m.refreshCommands.WithLabelValues(cmd.Kind.String()).Inc()
}
