package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakeMetrics aggregates the counters exported by the RPC surface.
type StakeMetrics struct {
	opsTotal      *prometheus.CounterVec
	pointsClaimed prometheus.Counter
	authFailures  prometheus.Counter
	rateLimited   prometheus.Counter
}

var (
	stakeOnce     sync.Once
	stakeRegistry *StakeMetrics
)

// Stake returns the process-wide stake metrics registry.
func Stake() *StakeMetrics {
	stakeOnce.Do(func() {
		stakeRegistry = &StakeMetrics{
			opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stake_operations_total",
				Help: "Count of stake ledger operations by method and outcome.",
			}, []string{"method", "outcome"}),
			pointsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stake_points_claimed_total",
				Help: "Total display points paid out by claim operations.",
			}),
			authFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stake_rpc_auth_failures_total",
				Help: "Number of RPC requests rejected for bad credentials.",
			}),
			rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stake_rpc_rate_limited_total",
				Help: "Number of RPC requests rejected by the rate limiter.",
			}),
		}
		prometheus.MustRegister(
			stakeRegistry.opsTotal,
			stakeRegistry.pointsClaimed,
			stakeRegistry.authFailures,
			stakeRegistry.rateLimited,
		)
	})
	return stakeRegistry
}

// ObserveOp records the outcome of a ledger operation.
func (m *StakeMetrics) ObserveOp(method, outcome string) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(method, outcome).Inc()
}

// AddPointsClaimed accumulates paid-out display points.
func (m *StakeMetrics) AddPointsClaimed(points uint64) {
	if m == nil {
		return
	}
	m.pointsClaimed.Add(float64(points))
}

// IncAuthFailure counts a rejected credential.
func (m *StakeMetrics) IncAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// IncRateLimited counts a throttled request.
func (m *StakeMetrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
