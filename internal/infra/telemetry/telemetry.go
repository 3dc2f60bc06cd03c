package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	loginAttempts       *prometheus.CounterVec
	twoFactorChecks     *prometheus.CounterVec
	verificationResends *prometheus.CounterVec
}

// Attach configures telemetry exporters and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &Provider{
		loginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		twoFactorChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "twofactor_checks_total",
			Help:      "Second-factor verifications by method and outcome",
		}, []string{"method", "outcome"}),
		verificationResends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "verification_resends_total",
			Help:      "Verification email resend decisions by result",
		}, []string{"result"}),
	}, nil
}

// CountLogin records a login attempt outcome (succeeded, denied, challenged).
func (p *Provider) CountLogin(outcome string) {
	if p == nil {
		return
	}
	p.loginAttempts.WithLabelValues(outcome).Inc()
}

// CountTwoFactorCheck records a second-factor verification by method.
func (p *Provider) CountTwoFactorCheck(method, outcome string) {
	if p == nil {
		return
	}
	p.twoFactorChecks.WithLabelValues(method, outcome).Inc()
}

// CountVerificationResend records a resend limiter decision (allowed, cooldown, blocked).
func (p *Provider) CountVerificationResend(result string) {
	if p == nil {
		return
	}
	p.verificationResends.WithLabelValues(result).Inc()
}
