package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source 标识一次 fetch 最终由哪里提供响应。
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceFallback    Source = "fallback"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// Metrics 汇总缓存代理的 Prometheus 指标。未启用时所有方法均为空操作。
type Metrics struct {
	enabled bool

	fetches        *prometheus.CounterVec
	revalidations  *prometheus.CounterVec
	cacheWrites    *prometheus.CounterVec
	cacheDeletions *prometheus.CounterVec
	workerEvents   *prometheus.CounterVec
	lifecycleState *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics 创建指标集合，namespace 为空时使用 offline_cache。
func NewMetrics(enabled bool, namespace string) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	if namespace == "" {
		namespace = "offline_cache"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		enabled:  true,
		registry: registry,

		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Intercepted fetches by policy and response source",
			},
			[]string{"policy", "source"},
		),
		revalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revalidate_total",
				Help:      "Background stale-while-revalidate refreshes by result",
			},
			[]string{"result"},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Cache entries written by origin of the write",
			},
			[]string{"reason"},
		),
		cacheDeletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_deletions_total",
				Help:      "Whole named caches deleted by reason",
			},
			[]string{"reason"},
		),
		workerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_events_total",
				Help:      "Dispatched worker events by kind and result",
			},
			[]string{"event", "result"},
		),
		lifecycleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lifecycle_state",
				Help:      "1 for the current worker lifecycle state, 0 otherwise",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.fetches,
		m.revalidations,
		m.cacheWrites,
		m.cacheDeletions,
		m.workerEvents,
		m.lifecycleState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Enabled 返回指标是否启用。
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Handler 返回 /-/metrics 使用的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层注册表，测试可以直接 Gather。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordFetch(policy string, source Source) {
	if !m.Enabled() {
		return
	}
	m.fetches.WithLabelValues(policy, string(source)).Inc()
}

func (m *Metrics) RecordRevalidate(result string) {
	if !m.Enabled() {
		return
	}
	m.revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCacheWrite(reason string, n int) {
	if !m.Enabled() || n <= 0 {
		return
	}
	m.cacheWrites.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RecordCacheDeletion(reason string) {
	if !m.Enabled() {
		return
	}
	m.cacheDeletions.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordWorkerEvent(event string, err error) {
	if !m.Enabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.workerEvents.WithLabelValues(event, result).Inc()
}

// SetLifecycleState 将 state 置 1，其余已知状态置 0。
func (m *Metrics) SetLifecycleState(state string, known []string) {
	if !m.Enabled() {
		return
	}
	for _, s := range known {
		value := 0.0
		if s == state {
			value = 1
		}
		m.lifecycleState.WithLabelValues(s).Set(value)
	}
}
