// File: internal/observability/metrics.go
package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for chat turns, drafts and send runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	chatTurns   *prometheus.CounterVec
	drafts      *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailpilot",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat messages handled, by reply type",
		}, []string{"type"}),
		drafts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailpilot",
			Subsystem: "drafter",
			Name:      "drafts_total",
			Help:      "Drafted emails, by the stage that produced the content",
		}, []string{"source"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailpilot",
			Subsystem: "automation",
			Name:      "runs_total",
			Help:      "Automation runs, by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailpilot",
			Subsystem: "automation",
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed automation runs",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.chatTurns, m.drafts, m.runs, m.runDuration)
	return m
}

func (m *Metrics) ObserveChatTurn(replyType string) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(replyType).Inc()
}

func (m *Metrics) ObserveDraft(source string) {
	if m == nil {
		return
	}
	m.drafts.WithLabelValues(source).Inc()
}

// ObserveRun records a finished run. outcome is "success", "failure" or "rejected";
// rejected runs never started and carry no duration.
func (m *Metrics) ObserveRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome != "rejected" {
		m.runDuration.Observe(seconds)
	}
}
