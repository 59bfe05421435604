package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolutions counts page resolutions per site and outcome. The "outcome"
// label is one of hit, resolved, error.
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stream_proxy_resolutions_total",
	Help: "Number of page resolutions",
}, []string{"site", "outcome"})

// CacheLookups counts token cache lookups. The "result" label is hit or
// miss.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stream_proxy_cache_lookups_total",
	Help: "Number of resolution cache lookups",
}, []string{"result"})

// SegmentsServed counts media segments proxied to clients per site.
var SegmentsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stream_proxy_segments_served_total",
	Help: "Number of media segments served",
}, []string{"site"})

// BytesTransferred tracks the total number of segment bytes copied
// downstream per site. This metric is a counter and only increases.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stream_proxy_bytes_transferred",
	Help: "Total segment bytes transferred",
}, []string{"site"})

// ActiveStreams tracks the number of segment transfers in flight. This is
// a gauge that increases and decreases in real-time.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "stream_proxy_active_streams",
	Help: "Number of segment transfers in flight",
})

// UpstreamErrors counts upstream failures per site. The "error_type" label
// categorizes the failure (e.g. fetch, status, parse).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stream_proxy_upstream_errors_total",
	Help: "Number of upstream errors",
}, []string{"site", "error_type"})

// TokensActive tracks the number of live tokens in the resolution cache.
var TokensActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "stream_proxy_tokens_active",
	Help: "Number of live resolution tokens",
})
