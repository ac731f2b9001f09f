// Package metrics holds Prometheus instruments for the database wrapper and
// the HTTP front.
// All collectors are registered with the global registry, so mounting
// promhttp.Handler() in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DBConnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "db_connect_attempts_total",
			Help: "Cumulative number of database connect attempts, retries included.",
		})

	DBConnectFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "db_connect_failures_total",
			Help: "Cumulative number of failed database connect attempts.",
		})

	DBConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connected",
			Help: "1 while the database engine is open, 0 otherwise.",
		})

	DBCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_session_commits_total",
			Help: "Cumulative number of session commits, by outcome.",
		}, []string{"outcome"})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Cumulative number of HTTP requests served, by method and status code.",
		}, []string{"method", "code"})
)

func init() {
	prometheus.MustRegister(
		DBConnectAttemptsTotal,
		DBConnectFailuresTotal,
		DBConnected,
		DBCommitsTotal,
		HTTPRequestsTotal,
	)
}
