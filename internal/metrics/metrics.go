package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the analysis service.
type Metrics struct {
	EventsAnalyzed  prometheus.Counter
	ThreatsFlagged  prometheus.Counter
	AnomaliesFound  prometheus.Counter
	AnalysisErrors  prometheus.Counter
	TrainingRuns    prometheus.Counter
	ModelGeneration prometheus.Gauge
	TrackedUsers    prometheus.Gauge
}

// New registers and returns the service metrics.
func New() *Metrics {
	return &Metrics{
		EventsAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "threatlens_events_analyzed_total",
			Help: "Total number of events analyzed",
		}),
		ThreatsFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "threatlens_threats_flagged_total",
			Help: "Total number of events flagged as threats",
		}),
		AnomaliesFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "threatlens_anomalies_found_total",
			Help: "Total number of events the anomaly detector flagged",
		}),
		AnalysisErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "threatlens_analysis_errors_total",
			Help: "Total number of events that failed to decode or analyze",
		}),
		TrainingRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "threatlens_training_runs_total",
			Help: "Total number of model training runs",
		}),
		ModelGeneration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "threatlens_model_generation",
			Help: "Generation counter of the active model snapshot",
		}),
		TrackedUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "threatlens_tracked_users",
			Help: "Number of users currently held by the behavior engine",
		}),
	}
}
