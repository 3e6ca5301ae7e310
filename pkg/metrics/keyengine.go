/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KeyEngineMetrics holds Prometheus metrics for the key rotation engine.
type KeyEngineMetrics struct {
	// RotationDurationSeconds tracks the duration of a single domain rotation.
	RotationDurationSeconds prometheus.Histogram
	// RotationsTotal counts rotation attempts by outcome (ok, skipped, failed).
	RotationsTotal *prometheus.CounterVec
	// JanitorKeysReapedTotal counts expired key pairs removed by the janitor.
	JanitorKeysReapedTotal prometheus.Counter
	// JanitorErrorsTotal counts errors encountered during cleanup.
	JanitorErrorsTotal prometheus.Counter
	// LockCapacityExhaustedTotal counts Acquire calls refused because the
	// global lock index was at capacity.
	LockCapacityExhaustedTotal prometheus.Counter
	// LastRotationTimestamp records the timestamp of the last scheduled
	// rotation batch.
	LastRotationTimestamp prometheus.Gauge
}

// NewKeyEngineMetrics creates and registers all Prometheus metrics for the
// key rotation engine.
func NewKeyEngineMetrics() *KeyEngineMetrics {
	return &KeyEngineMetrics{
		RotationDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "omnia_keyengine_rotation_duration_seconds",
			Help:    "Duration of a single domain rotation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		RotationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omnia_keyengine_rotations_total",
			Help: "Total number of domain rotations by outcome",
		}, []string{"outcome"}),
		JanitorKeysReapedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omnia_keyengine_janitor_keys_reaped_total",
			Help: "Total number of expired archived key pairs removed by the janitor",
		}),
		JanitorErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omnia_keyengine_janitor_errors_total",
			Help: "Total number of errors encountered during janitor cleanup",
		}),
		LockCapacityExhaustedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omnia_keyengine_lock_capacity_exhausted_total",
			Help: "Total number of lock acquisitions refused due to capacity",
		}),
		LastRotationTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "omnia_keyengine_last_rotation_timestamp",
			Help: "Unix timestamp of the last scheduled rotation batch",
		}),
	}
}

// RecordRotationDuration observes a rotation duration.
func (m *KeyEngineMetrics) RecordRotationDuration(d time.Duration) {
	m.RotationDurationSeconds.Observe(d.Seconds())
}

// RecordRotation increments the rotation counter for the given outcome
// ("ok", "skipped", or "failed").
func (m *KeyEngineMetrics) RecordRotation(outcome string) {
	m.RotationsTotal.WithLabelValues(outcome).Inc()
}

// RecordKeysReaped adds n to the janitor's reaped-key counter.
func (m *KeyEngineMetrics) RecordKeysReaped(n int) {
	m.JanitorKeysReapedTotal.Add(float64(n))
}

// RecordJanitorError increments the janitor error counter.
func (m *KeyEngineMetrics) RecordJanitorError() {
	m.JanitorErrorsTotal.Inc()
}

// RecordLockCapacityExhausted increments the lock-capacity-exhausted counter.
func (m *KeyEngineMetrics) RecordLockCapacityExhausted() {
	m.LockCapacityExhaustedTotal.Inc()
}

// RecordLastRotation sets the last scheduled rotation batch timestamp to now.
func (m *KeyEngineMetrics) RecordLastRotation() {
	m.LastRotationTimestamp.SetToCurrentTime()
}

// NewKeyEngineMetricsWithRegistry creates key engine metrics with a custom
// registry. Use this instead of NewKeyEngineMetrics when you need an
// isolated registry (e.g. for testing or per-run binaries).
func NewKeyEngineMetricsWithRegistry(reg *prometheus.Registry) *KeyEngineMetrics {
	rotationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "omnia_keyengine_rotation_duration_seconds",
		Help:    "Duration of a single domain rotation in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	rotationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omnia_keyengine_rotations_total",
		Help: "Total number of domain rotations by outcome",
	}, []string{"outcome"})
	janitorKeysReaped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omnia_keyengine_janitor_keys_reaped_total",
		Help: "Total number of expired archived key pairs removed by the janitor",
	})
	janitorErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omnia_keyengine_janitor_errors_total",
		Help: "Total number of errors encountered during janitor cleanup",
	})
	lockCapacityExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omnia_keyengine_lock_capacity_exhausted_total",
		Help: "Total number of lock acquisitions refused due to capacity",
	})
	lastRotationTimestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omnia_keyengine_last_rotation_timestamp",
		Help: "Unix timestamp of the last scheduled rotation batch",
	})

	reg.MustRegister(rotationDuration, rotationsTotal, janitorKeysReaped, janitorErrors, lockCapacityExhausted, lastRotationTimestamp)

	return &KeyEngineMetrics{
		RotationDurationSeconds:    rotationDuration,
		RotationsTotal:             rotationsTotal,
		JanitorKeysReapedTotal:     janitorKeysReaped,
		JanitorErrorsTotal:         janitorErrors,
		LockCapacityExhaustedTotal: lockCapacityExhausted,
		LastRotationTimestamp:      lastRotationTimestamp,
	}
}
