package registration

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

// Metrics provides observability for the registration wizard. It doubles as
// the wizard.Observer of every session.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge

	// Step transitions by origin and destination step
	StepTransitions *prometheus.CounterVec

	// Blocked navigation attempts by step
	ValidationFailures *prometheus.CounterVec

	// Submission outcomes: submitted, failed, blocked, abandoned
	Submissions   *prometheus.CounterVec
	SubmitLatency prometheus.Histogram

	Reviews *prometheus.CounterVec
}

// NewMetrics registers the registration metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "registrar_wizard_sessions_started_total",
			Help: "Registration wizard sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "registrar_wizard_sessions_active",
			Help: "Registration wizard sessions currently held in memory",
		}),
		StepTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_wizard_step_transitions_total",
			Help: "Wizard step transitions by origin and destination step",
		}, []string{"from", "to"}),
		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_wizard_validation_failures_total",
			Help: "Navigation or submit attempts blocked by an incomplete step",
		}, []string{"step"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_wizard_submissions_total",
			Help: "Wizard submissions by outcome",
		}, []string{"outcome"}),
		SubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "registrar_wizard_submit_duration_seconds",
			Help:    "Duration of the submission hand-off including persistence",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_registration_reviews_total",
			Help: "Registration review decisions by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) reviewed(s Status) {
	if m != nil {
		m.Reviews.WithLabelValues(string(s)).Inc()
	}
}

// StepChanged implements wizard.Observer.
func (m *Metrics) StepChanged(from, to int) {
	if m != nil {
		m.StepTransitions.WithLabelValues(strconv.Itoa(from), strconv.Itoa(to)).Inc()
	}
}

// StepBlocked implements wizard.Observer.
func (m *Metrics) StepBlocked(step int, _ []string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(strconv.Itoa(step)).Inc()
	}
}

// SubmitFinished implements wizard.Observer.
func (m *Metrics) SubmitFinished(outcome wizard.Outcome, elapsed time.Duration) {
	if m != nil {
		m.Submissions.WithLabelValues(string(outcome)).Inc()
		m.SubmitLatency.Observe(elapsed.Seconds())
	}
}
