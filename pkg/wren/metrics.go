// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package wren

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/telekom/wren/internal/traceroute"
)

// traceMetrics defines the metric collectors of the trace run
type traceMetrics struct {
	probes   *prometheus.CounterVec
	rounds   *prometheus.CounterVec
	rtt      *prometheus.HistogramVec
	pathHops *prometheus.GaugeVec
}

// newTraceMetrics initializes the metric collectors of the trace run
func newTraceMetrics() traceMetrics {
	return traceMetrics{
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wren_probes_sent_total",
				Help: "Total number of echo-request probes sent.",
			},
			[]string{"dest"},
		),
		rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wren_rounds_total",
				Help: "Total number of completed rounds by outcome.",
			},
			[]string{"dest", "outcome"},
		),
		rtt: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wren_round_trip_seconds",
				Help: "Histogram of measured round-trip times in seconds.",
			},
			[]string{"dest"},
		),
		pathHops: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wren_path_hops",
				Help: "Number of hops after which the destination answered.",
			},
			[]string{"dest"},
		),
	}
}

// GetCollectors returns all metric collectors
func (m *traceMetrics) GetCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.probes,
		m.rounds,
		m.rtt,
		m.pathHops,
	}
}

// Record updates the collectors with the outcome of one round
func (m *traceMetrics) Record(dest string, res traceroute.RoundResult) {
	m.probes.WithLabelValues(dest).Add(probesPerRound)

	switch res.Kind {
	case traceroute.RoundEchoReply:
		m.rounds.WithLabelValues(dest, "echo_reply").Inc()
		m.rtt.WithLabelValues(dest).Observe(res.Reply.RTT.Seconds())
		m.pathHops.WithLabelValues(dest).Set(float64(res.TTL))
	case traceroute.RoundExceeded:
		m.rounds.WithLabelValues(dest, "time_exceeded").Inc()
		for _, rtt := range res.Exceeded.RTTs {
			m.rtt.WithLabelValues(dest).Observe(rtt.Seconds())
		}
	default:
		m.rounds.WithLabelValues(dest, "timeout").Inc()
	}
}

// probesPerRound mirrors the engine's fixed probe count per round.
const probesPerRound = 3
