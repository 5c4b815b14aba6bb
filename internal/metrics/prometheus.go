package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_requests_total",
			Help: "Total insight requests by terminal status",
		},
		[]string{"status"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration per request",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"query_type"},
	)

	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_stage_failures_total",
			Help: "Pipeline failures by stage and error kind",
		},
		[]string{"stage", "kind"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_request_queue_depth",
			Help: "Requests waiting for an orchestrator worker",
		},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_query_executions_total",
			Help: "Query executions by terminal state",
		},
		[]string{"state"},
	)

	BytesScanned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_query_bytes_scanned",
			Help:    "Bytes scanned per succeeded execution",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	RecordsTransformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_records_transformed_total",
			Help: "Transform engine output by disposition",
		},
		[]string{"disposition"},
	)

	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_record_quality_score",
			Help:    "Quality score distribution of processed records",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_notifications_total",
			Help: "Notifications dispatched by outcome type",
		},
		[]string{"outcome"},
	)
)

func Init() {
	prometheus.MustRegister(RequestsProcessed)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(StageFailures)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(BytesScanned)
	prometheus.MustRegister(RecordsTransformed)
	prometheus.MustRegister(QualityScore)
	prometheus.MustRegister(NotificationsSent)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
