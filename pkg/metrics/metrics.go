package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cloudstore", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cloudstore", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	ClientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cloudstore", Subsystem: "client", Name: "requests_total", Help: "API client attempts by method and outcome."},
		[]string{"method", "outcome"},
	)
	ClientRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cloudstore", Subsystem: "client", Name: "retries_total", Help: "API client retries by method."},
		[]string{"method"},
	)
	DatabaseOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cloudstore", Subsystem: "db", Name: "operations_total", Help: "Database operations by engine, operation and result."},
		[]string{"engine", "op", "result"},
	)
	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cloudstore", Subsystem: "auth", Name: "tokens_issued_total", Help: "Tokens issued by authentication mode."},
		[]string{"mode"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(ClientRequests)
	reg.MustRegister(ClientRetries)
	reg.MustRegister(DatabaseOperations)
	reg.MustRegister(TokensIssued)
}
