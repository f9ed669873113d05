package dispatcher

import "github.com/prometheus/client_golang/prometheus"

const (
	resultSent    = "sent"
	resultFailed  = "failed"
	resultInvalid = "invalid"
)

type Metrics struct {
	jobs     *prometheus.CounterVec
	attempts *prometheus.CounterVec
}

// NewMetrics registra los contadores del dispatcher. reg nil usa el registro por defecto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpilot_email_jobs_total",
			Help: "Email jobs finished by the dispatcher, by kind and result.",
		}, []string{"kind", "result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpilot_email_send_attempts_total",
			Help: "Outbound email send attempts, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.jobs, m.attempts)
	return m
}

func (m *Metrics) job(kind, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) attempt(kind string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind).Inc()
}
