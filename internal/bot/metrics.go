// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bot

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the bot's Prometheus instruments. Each instance owns its
// registry so several bots (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Turns            *prometheus.CounterVec
	TurnFailures     *prometheus.CounterVec
	Answers          *prometheus.CounterVec
	GenieLatency     prometheus.Histogram
	StateSaveFailure prometheus.Counter
	RateLimited      prometheus.Counter
	KnownSessions    prometheus.GaugeFunc
}

// NewMetrics creates the instruments under namespace. sessions reports the
// number of known users and may be nil.
func NewMetrics(namespace string, sessions func() int) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	if sessions == nil {
		sessions = func() int { return 0 }
	}

	return &Metrics{
		registry: registry,
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns processed by activity type.",
		}, []string{"type"}),
		TurnFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Turns that returned an error, by activity type.",
		}, []string{"type"}),
		Answers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "genie_answers_total",
			Help:      "Genie answers by kind.",
		}, []string{"kind"}),
		GenieLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "genie_latency_seconds",
			Help:      "Time to answer one question through Genie.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		StateSaveFailure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_save_failures_total",
			Help:      "Failed conversation or user state saves.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_messages_total",
			Help:      "Messages rejected by the per-user rate limit.",
		}),
		KnownSessions: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_sessions",
			Help:      "Users with a session in memory.",
		}, func() float64 { return float64(sessions()) }),
	}
}

// ObserveGenieLatency records the duration of one question
func (m *Metrics) ObserveGenieLatency(d time.Duration) {
	m.GenieLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
