package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics exposes counters/gauges/histograms for assignment flows.
type DispatchMetrics struct {
	assignmentsTotal *prometheus.CounterVec
	escalationsTotal prometheus.Counter
	queueDepth       *prometheus.GaugeVec
	tickDuration     prometheus.Histogram
	assignmentWait   prometheus.Histogram
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fantooo",
			Subsystem: "dispatch",
			Name:      "assignments_total",
			Help:      "Total assignment attempts by outcome",
		}, []string{"outcome"}),
		escalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fantooo",
			Subsystem: "dispatch",
			Name:      "escalations_total",
			Help:      "Total chats escalated at the reassignment ceiling",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fantooo",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Chats waiting for an operator by priority",
		}, []string{"priority"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fantooo",
			Subsystem: "dispatch",
			Name:      "tick_duration_seconds",
			Help:      "Duration of queue processor ticks",
			Buckets:   prometheus.DefBuckets,
		}),
		assignmentWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fantooo",
			Subsystem: "dispatch",
			Name:      "assignment_wait_seconds",
			Help:      "Queue wait time at the moment of assignment",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.assignmentsTotal, m.escalationsTotal, m.queueDepth, m.tickDuration, m.assignmentWait)
	return m
}

func (m *DispatchMetrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *DispatchMetrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}

func (m *DispatchMetrics) SetQueueDepth(priority string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func (m *DispatchMetrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
}

func (m *DispatchMetrics) ObserveAssignmentWait(seconds float64) {
	if m == nil {
		return
	}
	m.assignmentWait.Observe(seconds)
}
