package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels correlation runs that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels correlation runs rejected before grouping started.
	OutcomeError = "error"

	// EnrichmentSimilarity labels similarity clustering failures.
	EnrichmentSimilarity = "similarity"
	// EnrichmentNarrative labels narrative generation failures.
	EnrichmentNarrative = "narrative"
)

var (
	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "correlations_total",
			Help:      "Total number of correlation runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	correlationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_correlator",
			Name:      "correlation_seconds",
			Help:      "Correlation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	incidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "incidents_created_total",
			Help:      "Incidents created, partitioned by correlation type.",
		},
		[]string{"correlation_type"},
	)

	insightsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "insights_total",
			Help:      "Insights seen by the correlator, partitioned by disposition.",
		},
		[]string{"disposition"},
	)

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "detections_total",
			Help:      "Anomaly detections, partitioned by applied method and verdict.",
		},
		[]string{"method", "anomalous"},
	)

	enrichmentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "enrichment_failures_total",
			Help:      "Optional enrichment calls that failed and fell back to rule-based behaviour.",
		},
		[]string{"kind"},
	)

	persistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "persistence_failures_total",
			Help:      "Incident store writes that failed during correlation.",
		},
	)
)

// Register attaches correlator collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		correlationsTotal,
		correlationDurationSeconds,
		incidentsCreatedTotal,
		insightsTotal,
		detectionsTotal,
		enrichmentFailuresTotal,
		persistenceFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCorrelation records a correlation duration and outcome label.
func ObserveCorrelation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	correlationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	correlationDurationSeconds.Observe(duration.Seconds())
}

// ObserveInsights records how many insights were grouped and left ungrouped.
func ObserveInsights(grouped, ungrouped int) {
	insightsTotal.WithLabelValues("grouped").Add(float64(grouped))
	insightsTotal.WithLabelValues("ungrouped").Add(float64(ungrouped))
}

// IncidentCreated counts one materialised incident.
func IncidentCreated(correlationType string) {
	incidentsCreatedTotal.WithLabelValues(correlationType).Inc()
}

// ObserveDetection counts one detector verdict.
func ObserveDetection(method string, anomalous bool) {
	detectionsTotal.WithLabelValues(method, strconv.FormatBool(anomalous)).Inc()
}

// EnrichmentFailed counts an optional collaborator failure.
func EnrichmentFailed(kind string) {
	enrichmentFailuresTotal.WithLabelValues(kind).Inc()
}

// PersistenceFailed counts an incident store write failure.
func PersistenceFailed() {
	persistenceFailuresTotal.Inc()
}
