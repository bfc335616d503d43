package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "air_guardian"

	pipelineSubsystem   = "pipeline"
	predictorSubsystem  = "predictor"
	classifierSubsystem = "classifier"
	ledgerSubsystem     = "ledger"
	cacheSubsystem      = "snapshot_cache"
)

var (
	// ReadingsProcessed counts readings handed to the pipeline by result
	ReadingsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: pipelineSubsystem,
			Name:      "readings_total",
			Help:      "Number of readings processed by result",
		},
		[]string{"result"}, // "ok", "invalid"
	)

	// ProcessingLatency measures the time from ingestion to cached decision
	ProcessingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: pipelineSubsystem,
			Name:      "processing_duration_seconds",
			Help:      "Latency of a single pipeline run",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	// Decisions counts control decisions by fan state and override
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: pipelineSubsystem,
			Name:      "decisions_total",
			Help:      "Number of fan-control decisions by fan state and safety override",
		},
		[]string{"fan", "override"},
	)

	// FanIntensity tracks the latest commanded intensity per device
	FanIntensity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: pipelineSubsystem,
			Name:      "fan_intensity_percent",
			Help:      "Latest commanded fan intensity per device",
		},
		[]string{"device"},
	)

	// FaultsDetected counts sensor faults by type
	FaultsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: pipelineSubsystem,
			Name:      "faults_total",
			Help:      "Number of sensor faults detected by type",
		},
		[]string{"type"},
	)

	// PredictorLatency measures predictor calls
	PredictorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: predictorSubsystem,
			Name:      "duration_seconds",
			Help:      "Latency of predictor calls by result",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"result"}, // "ok", "error", "timeout"
	)

	// PredictorFallbacks counts naive carry-forward forecasts by reason
	PredictorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: predictorSubsystem,
			Name:      "fallbacks_total",
			Help:      "Number of forecasts served by naive carry-forward",
		},
		[]string{"reason"}, // "short_window", "timeout", "error"
	)

	// ClassifierFailures counts classifier errors replaced by an unknown label
	ClassifierFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: classifierSubsystem,
			Name:      "failures_total",
			Help:      "Number of classifier failures substituted with unknown",
		},
		[]string{"reason"}, // "timeout", "error"
	)

	// LedgerAppends counts ledger writes by outcome
	LedgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ledgerSubsystem,
			Name:      "appends_total",
			Help:      "Number of ledger appends by event type and outcome",
		},
		[]string{"event_type", "outcome"}, // outcome: "committed", "simulated", "fallback"
	)

	// CacheRequests counts snapshot cache lookups
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: cacheSubsystem,
			Name:      "requests_total",
			Help:      "Snapshot cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)
)

func init() {
	prometheus.MustRegister(
		ReadingsProcessed,
		ProcessingLatency,
		Decisions,
		FanIntensity,
		FaultsDetected,
		PredictorLatency,
		PredictorFallbacks,
		ClassifierFailures,
		LedgerAppends,
		CacheRequests,
	)
}
