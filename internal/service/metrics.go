package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts OTP operations by outcome and times SMS dispatch.
type Metrics struct {
	otpRequests      *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	smsDispatch      *prometheus.HistogramVec
}

// NewMetrics registers the OTP metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		otpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_requests_total",
				Help: "Total number of OTP issuance requests by outcome",
			},
			[]string{"result"},
		),
		otpVerifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_verifications_total",
				Help: "Total number of OTP verification attempts by outcome",
			},
			[]string{"result"},
		),
		smsDispatch: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "otp_sms_dispatch_duration_seconds",
				Help:    "Duration of outbound SMS dispatch calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) IncRequest(result string) {
	m.otpRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) IncVerification(result string) {
	m.otpVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSMSDispatch(result string, seconds float64) {
	m.smsDispatch.WithLabelValues(result).Observe(seconds)
}
