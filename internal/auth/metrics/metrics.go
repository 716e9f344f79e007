package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	UsersRegistered prometheus.Counter
	TokensIssued    *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	TokensRevoked   prometheus.Counter
}

// New registers auth metrics with reg; nil leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_auth_users_registered_total",
			Help: "Total number of users registered",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myapi_auth_tokens_issued_total",
			Help: "Token pairs issued, by grant",
		}, []string{"grant"}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myapi_auth_failures_total",
			Help: "Rejected credential or refresh attempts, by reason",
		}, []string{"reason"}),
		TokensRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_auth_tokens_revoked_total",
			Help: "Tokens added to the revocation list",
		}),
	}
}

func (m *Metrics) IncrementUsersRegistered() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

func (m *Metrics) IncrementTokensIssued(grant string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(grant).Inc()
}

func (m *Metrics) IncrementAuthFailures(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddTokensRevoked(n int) {
	if m == nil {
		return
	}
	m.TokensRevoked.Add(float64(n))
}
