// Package metrics exposes Prometheus counters/gauges/histograms for
// the cache build, session lifecycle and tile renderer, wired the way
// an internal h3-spatial-cache-style service keeps its own private
// registry rather than touching the global default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider wraps a private prometheus.Registry and the metric
// collectors the rest of the system increments.
type Provider struct {
	reg *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	CacheBytesTotal   *prometheus.GaugeVec
	ObjectsIngested   *prometheus.CounterVec
	TilesRendered     prometheus.Counter
	NearestLookupSecs prometheus.Histogram
	BuildDurationSecs *prometheus.HistogramVec
}

// Init constructs a Provider with its own registry and registers the
// standard Go/process collectors alongside the domain metrics.
func Init() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Provider{
		reg: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triplemap_active_sessions",
			Help: "Number of sessions currently tracked by the session manager.",
		}),
		CacheBytesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triplemap_cache_bytes",
			Help: "Approximate resident bytes of a backend's geometry cache.",
		}, []string{"backend"}),
		ObjectsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triplemap_objects_ingested_total",
			Help: "Geometry objects ingested during a cache build, by backend.",
		}, []string{"backend"}),
		TilesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triplemap_tiles_rendered_total",
			Help: "Heatmap tiles rendered.",
		}),
		NearestLookupSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triplemap_nearest_lookup_duration_seconds",
			Help:    "Latency of GetNearest calls.",
			Buckets: prometheus.DefBuckets,
		}),
		BuildDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triplemap_build_duration_seconds",
			Help:    "Duration of a cache or requestor build, by stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
	}

	reg.MustRegister(
		p.ActiveSessions, p.CacheBytesTotal, p.ObjectsIngested,
		p.TilesRendered, p.NearestLookupSecs, p.BuildDurationSecs,
	)
	return p
}

// Handler serves /metrics in the Prometheus text exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Registerer exposes the private registry for test setup or for
// registering additional collectors outside this package.
func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
