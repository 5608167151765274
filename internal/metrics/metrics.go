// Package metrics provides Prometheus instrumentation for the conquest core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge

	attacks        *prometheus.CounterVec
	payments       *prometheus.CounterVec
	battleResults  prometheus.Counter
	sessionsEnded  *prometheus.CounterVec
	enemyHealth    *prometheus.GaugeVec
	ledgerWaitTime prometheus.Histogram
}

// New creates and registers the service collectors on a fresh registry.
func New(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, path and status.",
			ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "In-flight HTTP requests.",
			ConstLabels: labels,
		}),
		attacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "conquest_attacks_total",
			Help:        "Attack requests by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "conquest_payments_total",
			Help:        "Payment verifications by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		battleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "conquest_battle_results_total",
			Help:        "Battle result records written.",
			ConstLabels: labels,
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "conquest_sessions_ended_total",
			Help:        "Sessions ended by win condition.",
			ConstLabels: labels,
		}, []string{"win_condition"}),
		enemyHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "conquest_enemy_health",
			Help:        "Current enemy health.",
			ConstLabels: labels,
		}, []string{"enemy_id"}),
		ledgerWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "conquest_ledger_confirmation_seconds",
			Help:        "Time spent waiting for ledger settlement.",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.inFlight,
		m.attacks, m.payments, m.battleResults,
		m.sessionsEnded, m.enemyHealth, m.ledgerWaitTime,
	)
	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight increments the in-flight request gauge.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight decrements the in-flight request gauge.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordAttack records an attack request outcome ("resolved", "rejected", ...).
func (m *Metrics) RecordAttack(result string) { m.attacks.WithLabelValues(result).Inc() }

// RecordPayment records a payment verification outcome.
func (m *Metrics) RecordPayment(outcome string) { m.payments.WithLabelValues(outcome).Inc() }

// RecordBattleResults counts written battle records.
func (m *Metrics) RecordBattleResults(n int) { m.battleResults.Add(float64(n)) }

// RecordSessionEnded counts a session transition by win condition.
func (m *Metrics) RecordSessionEnded(winCondition string) {
	m.sessionsEnded.WithLabelValues(winCondition).Inc()
}

// SetEnemyHealth publishes the current health of an enemy.
func (m *Metrics) SetEnemyHealth(enemyID string, health int64) {
	m.enemyHealth.WithLabelValues(enemyID).Set(float64(health))
}

// RecordLedgerWait records one settlement wait duration.
func (m *Metrics) RecordLedgerWait(d time.Duration) {
	m.ledgerWaitTime.Observe(d.Seconds())
}
