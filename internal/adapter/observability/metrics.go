package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	InferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Total number of inference backend calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)
	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Inference backend call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"model"},
	)
	InferenceTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_tokens_total",
			Help: "Total tokens exchanged with the inference backend by direction",
		},
		[]string{"direction"},
	)
	InferenceRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_retries_total",
			Help: "Total number of inference attempt retries by reason",
		},
		[]string{"reason"},
	)
	InferenceLatencyDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inference_latency_drift_seconds",
			Help: "Absolute drift of recent inference latency from the model baseline",
		},
		[]string{"model"},
	)

	RequestsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_requests_enqueued_total",
			Help: "Total number of requests enqueued",
		},
		[]string{"type"},
	)
	RequestsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_requests_processing",
			Help: "Number of requests currently processing",
		},
		[]string{"type"},
	)
	RequestsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_requests_completed_total",
			Help: "Total number of requests completed",
		},
		[]string{"type"},
	)
	RequestsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_requests_failed_total",
			Help: "Total number of requests failed",
		},
		[]string{"type"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Queue depth by status, refreshed on each stats read",
		},
		[]string{"status"},
	)

	GPUAcquireWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gpu_acquire_wait_seconds",
			Help:    "Time spent waiting for the GPU permit",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 150, 300},
		},
	)
	GPUHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpu_permit_held",
			Help: "Whether the GPU permit is currently held (0 or 1)",
		},
	)
	GPUReleaseWithoutHoldTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gpu_release_without_hold_total",
			Help: "Total number of GPU permit releases without a matching hold",
		},
	)

	DispatcherCycleBreakerTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_cycle_breaker_trips_total",
			Help: "Total number of consecutive-failure dispatcher exits",
		},
	)
	StuckProcessingRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_stuck_processing_rows",
			Help: "Processing rows older than the stuck threshold, from the last observer pass",
		},
	)

	// Response quality distributions
	ConfidenceScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_confidence_score",
			Help:    "Distribution of response confidence scores ([0,1])",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	NonCompliantResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_non_compliant_responses_total",
			Help: "Total number of responses flagged SEC non-compliant",
		},
	)
	HumanReviewResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_human_review_responses_total",
			Help: "Total number of responses flagged for human review",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(InferenceRequestsTotal)
	prometheus.MustRegister(InferenceDuration)
	prometheus.MustRegister(InferenceTokensTotal)
	prometheus.MustRegister(InferenceRetriesTotal)
	prometheus.MustRegister(InferenceLatencyDrift)
	prometheus.MustRegister(RequestsEnqueuedTotal)
	prometheus.MustRegister(RequestsProcessing)
	prometheus.MustRegister(RequestsCompletedTotal)
	prometheus.MustRegister(RequestsFailedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(GPUAcquireWait)
	prometheus.MustRegister(GPUHeld)
	prometheus.MustRegister(GPUReleaseWithoutHoldTotal)
	prometheus.MustRegister(DispatcherCycleBreakerTrips)
	prometheus.MustRegister(StuckProcessingRows)
	prometheus.MustRegister(ConfidenceScoreHistogram)
	prometheus.MustRegister(NonCompliantResponsesTotal)
	prometheus.MustRegister(HumanReviewResponsesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueRequest(reqType string) {
	RequestsEnqueuedTotal.WithLabelValues(reqType).Inc()
}

func StartProcessingRequest(reqType string) {
	RequestsProcessing.WithLabelValues(reqType).Inc()
}

func CompleteRequest(reqType string) {
	RequestsProcessing.WithLabelValues(reqType).Dec()
	RequestsCompletedTotal.WithLabelValues(reqType).Inc()
}

func FailRequest(reqType string) {
	RequestsProcessing.WithLabelValues(reqType).Dec()
	RequestsFailedTotal.WithLabelValues(reqType).Inc()
}

// ObserveQueueDepth refreshes the per-status depth gauges.
func ObserveQueueDepth(pending, processing, completed, failed int64) {
	QueueDepth.WithLabelValues("pending").Set(float64(pending))
	QueueDepth.WithLabelValues("processing").Set(float64(processing))
	QueueDepth.WithLabelValues("completed").Set(float64(completed))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

// ObserveInference records quality signals from a completed inference.
func ObserveInference(confidence float64, secCompliant, humanReview bool, inputTokens, outputTokens int) {
	if confidence >= 0 && confidence <= 1 {
		ConfidenceScoreHistogram.Observe(confidence)
	}
	if !secCompliant {
		NonCompliantResponsesTotal.Inc()
	}
	if humanReview {
		HumanReviewResponsesTotal.Inc()
	}
	InferenceTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	InferenceTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}
