// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequests counts completion calls by mode (single|stream) and result.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_upstream_requests_total",
		Help: "Upstream completion calls by mode and result",
	}, []string{"mode", "result"})

	// UpstreamLatency tracks time to first byte for streams and full latency for single calls.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_upstream_latency_seconds",
		Help:    "Upstream call latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"mode"})

	// DedupHits counts requests served by an already issued call in the same operation.
	DedupHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_dedup_hits_total",
		Help: "Requests collapsed onto an in-flight or memoized upstream call",
	}, []string{"mode"})

	// StreamFragments counts fragments relayed to clients.
	StreamFragments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_stream_fragments_total",
		Help: "Token fragments relayed to clients",
	})

	// StreamTerminations counts relayed streams by outcome (completed|failed|aborted).
	StreamTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_stream_terminations_total",
		Help: "Relayed streams by terminal outcome",
	}, []string{"outcome"})

	// Tokens counts prompt and completion tokens by model.
	Tokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_tokens_total",
		Help: "Tokens accounted by model and kind",
	}, []string{"model", "kind"})

	// UploadRejections counts rejected uploads by reason.
	UploadRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_upload_rejections_total",
		Help: "Rejected image uploads by reason",
	}, []string{"reason"})

	// UsersProvisioned counts identities provisioned on first sight.
	UsersProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_users_provisioned_total",
		Help: "Identities provisioned with a default balance",
	})

	// RateLimitHits counts requests rejected by the rate limiter.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_rate_limit_hits_total",
		Help: "Requests rejected by the per-identity rate limiter",
	})

	// GraphQLOperations counts executed operations by type.
	GraphQLOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_graphql_operations_total",
		Help: "GraphQL operations by operation type",
	}, []string{"operation"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_http_request_duration_seconds",
		Help:    "HTTP request duration by route, method and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one finished HTTP request.
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// ObserveUpstream records the outcome and latency of one upstream call.
func ObserveUpstream(mode string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamRequests.WithLabelValues(mode, result).Inc()
	UpstreamLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}
