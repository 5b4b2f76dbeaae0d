package metrics

import (
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/prometheus/client_golang/prometheus"
)

const OutcomeOK = "ok"

// Metrics holds the injected vectors. A nil *Metrics records nothing, which
// keeps tests and tools free of registry setup.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Durations       *prometheus.HistogramVec
	PublishFailures *prometheus.CounterVec
	MailFailures    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usecase_requests_total",
				Help: "Total number of use case invocations.",
			},
			[]string{"use_case", "outcome"},
		),
		Durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usecase_duration_seconds",
				Help:    "Duration of use case execution in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"use_case"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_publish_failed_total",
				Help: "Count of domain event publish failures.",
			},
			[]string{"event"},
		),
		MailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otp_mail_failed_total",
			Help: "OTP codes persisted but not handed to the mailer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Durations, m.PublishFailures, m.MailFailures)
	}
	return m
}

// Observe records one use case run; outcome is "ok" or the error kind.
func (m *Metrics) Observe(useCase string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	m.Requests.WithLabelValues(useCase, outcome).Inc()
	m.Durations.WithLabelValues(useCase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) PublishFailed(event string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) MailFailed() {
	if m == nil {
		return
	}
	m.MailFailures.Inc()
}
