package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the drafting pipeline.
type PipelineMetrics struct {
	outcomesTotal    *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	extractionsTotal *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	drainTotal       *prometheus.CounterVec
	trustScore       prometheus.Histogram
	retrievalErrors  *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Messages processed, by terminal outcome",
		}, []string{"outcome", "reason"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Latency of each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "extraction",
			Name:      "attachments_total",
			Help:      "Attachment extractions, by modality and status",
		}, []string{"modality", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "support",
			Subsystem: "offline_queue",
			Name:      "depth",
			Help:      "Items currently parked in the offline queue",
		}),
		drainTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "offline_queue",
			Name:      "drain_total",
			Help:      "Drain attempts, by result",
		}, []string{"result"}),
		trustScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "support",
			Subsystem: "drafting",
			Name:      "trust_score",
			Help:      "Trust score of emitted drafts",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		retrievalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "retrieval",
			Name:      "errors_total",
			Help:      "Knowledge retrievals that fell back to no snippets, by kind",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomesTotal, m.stageLatency, m.extractionsTotal, m.queueDepth, m.drainTotal, m.trustScore, m.retrievalErrors)
	return m
}

// ObserveOutcome counts a terminal outcome. reason is empty for drafts.
func (m *PipelineMetrics) ObserveOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(outcome, reason).Inc()
}

func (m *PipelineMetrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) ObserveExtraction(modality, status string) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(modality, status).Inc()
}

func (m *PipelineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *PipelineMetrics) ObserveDrain(result string) {
	if m == nil {
		return
	}
	m.drainTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveTrust(score float64) {
	if m == nil {
		return
	}
	m.trustScore.Observe(score)
}

// ObserveRetrievalError counts a failed knowledge retrieval.
func (m *PipelineMetrics) ObserveRetrievalError(kind string) {
	if m == nil {
		return
	}
	m.retrievalErrors.WithLabelValues(kind).Inc()
}
