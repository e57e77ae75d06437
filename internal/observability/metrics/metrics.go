// Package metrics defines the Prometheus collectors exported by stcedge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stcedge"

// Dispatch sources label where a response came from.
const (
	SourceCache     = "cache"
	SourceNetwork   = "network"
	SourceOffline   = "offline"
	SourceSynthetic = "synthetic"
	SourceBypass    = "bypass"
)

// Metrics groups every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Cache *CacheMetrics
	Push  *PushMetrics
}

// CacheMetrics tracks the fetch dispatcher and lifecycle manager.
type CacheMetrics struct {
	dispatches        *prometheus.CounterVec
	revalidations     *prometheus.CounterVec
	precache          *prometheus.CounterVec
	namespacesDeleted prometheus.Counter
}

// PushMetrics tracks subscription and delivery outcomes.
type PushMetrics struct {
	deliveries    *prometheus.CounterVec
	subscriptions prometheus.Gauge
	subscribes    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	cache := &CacheMetrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "dispatch_total",
			Help:      "Intercepted requests by route and response source.",
		}, []string{"route", "source"}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "revalidations_total",
			Help:      "Background cache refreshes by result.",
		}, []string{"result"}),
		precache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "precache_total",
			Help:      "Install-time precache fetches by asset kind and result.",
		}, []string{"kind", "result"}),
		namespacesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "namespaces_deleted_total",
			Help:      "Stale cache namespaces removed on activation.",
		}),
	}

	push := &PushMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Push deliveries by outcome (sent, failed, removed, expired).",
		}, []string{"outcome"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "subscriptions",
			Help:      "Stored push subscriptions after the last mutation.",
		}),
		subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "subscribe_requests_total",
			Help:      "Subscribe requests by result (added, duplicate, invalid).",
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		cache.dispatches, cache.revalidations, cache.precache, cache.namespacesDeleted,
		push.deliveries, push.subscriptions, push.subscribes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{registry: reg, Cache: cache, Push: push}, nil
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// All recording methods are nil-safe so components can run without metrics.

func (c *CacheMetrics) RecordDispatch(route, source string) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(route, source).Inc()
}

func (c *CacheMetrics) RecordRevalidation(ok bool) {
	if c == nil {
		return
	}
	c.revalidations.WithLabelValues(resultLabel(ok)).Inc()
}

func (c *CacheMetrics) RecordPrecache(kind string, ok bool) {
	if c == nil {
		return
	}
	c.precache.WithLabelValues(kind, resultLabel(ok)).Inc()
}

func (c *CacheMetrics) RecordNamespacesDeleted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.namespacesDeleted.Add(float64(n))
}

func (p *PushMetrics) RecordDeliveries(outcome string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.deliveries.WithLabelValues(outcome).Add(float64(n))
}

func (p *PushMetrics) SetSubscriptions(n int) {
	if p == nil {
		return
	}
	p.subscriptions.Set(float64(n))
}

func (p *PushMetrics) RecordSubscribe(result string) {
	if p == nil {
		return
	}
	p.subscribes.WithLabelValues(result).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
