package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	Lockouts         prometheus.Counter
	SessionsStarted  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		OTPVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_otp_verifications_total",
			Help: "OTP verification attempts by outcome.",
		}, []string{"outcome"}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "portal_auth_lockouts_total",
			Help: "Lockouts triggered by repeated OTP failures.",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "portal_auth_sessions_started_total",
			Help: "Sessions established by login or token resume.",
		}),
	}
}
