// Package metrics exposes Prometheus instrumentation for the broker and
// registry, following the namespaced promauto.NewCounterVec/HistogramVec
// pattern used throughout the tracing package this system was adapted from.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the broker and registry's Prometheus collectors.
type Metrics struct {
	ActionTotal      *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	AssignConflicts  prometheus.Counter
	AssignEmpty      *prometheus.CounterVec
	AssignDuration   *prometheus.HistogramVec
	RegistryRequests *prometheus.CounterVec
	ProxyDuration    *prometheus.HistogramVec
}

// New creates and registers the collectors under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "taskfabric"
	}
	return &Metrics{
		ActionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_actions_total",
				Help:      "Total number of task actions applied, by task and outcome",
			},
			[]string{"task", "action", "outcome"},
		),
		ActionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_action_duration_seconds",
				Help:      "Duration of a single task action round-trip",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task", "action"},
		),
		AssignConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assign_conflicts_total",
				Help:      "Total number of compare-and-set conflicts encountered while assigning a task",
			},
		),
		AssignEmpty: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assign_empty_total",
				Help:      "Total number of assignOne calls that found no eligible task",
			},
			[]string{"task"},
		),
		AssignDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assign_duration_seconds",
				Help:      "Duration of assignOne calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		RegistryRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_requests_total",
				Help:      "Total number of registry requests by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		ProxyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registry_proxy_duration_seconds",
				Help:      "Duration of proxied upstream calls through the registry",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name"},
		),
	}
}

// RecordAction records one completed task action.
func (m *Metrics) RecordAction(taskName, action, outcome string, duration time.Duration) {
	m.ActionTotal.WithLabelValues(taskName, action, outcome).Inc()
	m.ActionDuration.WithLabelValues(taskName, action).Observe(duration.Seconds())
}

// RecordAssign records one assignOne call, successful or not.
func (m *Metrics) RecordAssign(taskName string, found bool, conflicts int, duration time.Duration) {
	m.AssignDuration.WithLabelValues(taskName).Observe(duration.Seconds())
	if !found {
		m.AssignEmpty.WithLabelValues(taskName).Inc()
	}
	if conflicts > 0 {
		m.AssignConflicts.Add(float64(conflicts))
	}
}

// RecordRegistryRequest records one registry HTTP request.
func (m *Metrics) RecordRegistryRequest(route, outcome string) {
	m.RegistryRequests.WithLabelValues(route, outcome).Inc()
}

// RecordProxy records one proxied upstream call duration.
func (m *Metrics) RecordProxy(name string, duration time.Duration) {
	m.ProxyDuration.WithLabelValues(name).Observe(duration.Seconds())
}
