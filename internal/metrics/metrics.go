// Package metrics holds Prometheus instruments that are used across the
// platform.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ResolverEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolver_cache_entries",
			Help: "Number of hostname resolutions currently cached.",
		})

	ResolverLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_load_total",
			Help: "Cumulative number of hostname lookups served from the store.",
		})

	ResolverLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_load_errors_total",
			Help: "Cumulative number of hostname store lookups that failed.",
		})

	ResolverStaleServedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_stale_served_total",
			Help: "Lookups answered from a stale entry while the store was unavailable.",
		})

	ResolverEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_evict_total",
			Help: "Cumulative number of resolutions evicted from the cache.",
		})

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_total",
			Help: "Publish workflows finished, labelled by terminal state.",
		}, []string{"state"})

	PublishInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "publish_in_flight",
			Help: "Publish workflows currently being advanced by a worker.",
		})

	UploadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_upload_retries_total",
			Help: "Transient upload or deploy attempts that were retried.",
		})

	DomainPollTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "domain_verification_polls_total",
			Help: "DNS ownership and routing probes performed.",
		})

	DomainVerifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "domain_verified_total",
			Help: "Custom domains that reached the VERIFIED state.",
		})
)

func init() {
	prometheus.MustRegister(
		ResolverEntries,
		ResolverLoadTotal,
		ResolverLoadErrorsTotal,
		ResolverStaleServedTotal,
		ResolverEvictTotal,
		PublishTotal,
		PublishInFlight,
		UploadRetriesTotal,
		DomainPollTotal,
		DomainVerifiedTotal,
	)
}
