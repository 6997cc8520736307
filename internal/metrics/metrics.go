package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barbearia"

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by result code.",
		},
		[]string{"result"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Client cancellations by path (normal, strike, fee) or rejection code.",
		},
		[]string{"path"},
	)

	strikes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_total",
			Help:      "Strikes applied for late cancellations.",
		},
	)

	bans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bans_total",
			Help:      "Users banned on reaching the strike threshold.",
		},
	)

	comboRollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "combo_rollbacks_total",
			Help:      "Combo compensations by outcome.",
		},
		[]string{"outcome"},
	)

	adminActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_actions_total",
			Help:      "Administrative overrides by action.",
		},
		[]string{"action"},
	)

	auditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit entries that could not be persisted, by reason.",
		},
		[]string{"reason"},
	)

	auditEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_escalations_total",
			Help:      "Operator escalations raised by the audit writer.",
		},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by route.",
		},
		[]string{"route"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservations, cancellations, strikes, bans, comboRollbacks,
			adminActions, auditFailures, auditEscalations, rateLimited, httpRequests,
		)
	})
}

func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func IncCancellation(path string) {
	cancellations.WithLabelValues(path).Inc()
}

func IncStrike() {
	strikes.Inc()
}

func IncBan() {
	bans.Inc()
}

func IncComboRollback(outcome string) {
	comboRollbacks.WithLabelValues(outcome).Inc()
}

func IncAdminAction(action string) {
	adminActions.WithLabelValues(action).Inc()
}

func IncAuditFailure(reason string) {
	auditFailures.WithLabelValues(reason).Inc()
}

func IncAuditEscalation() {
	auditEscalations.Inc()
}

func IncRateLimited(route string) {
	rateLimited.WithLabelValues(route).Inc()
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}
