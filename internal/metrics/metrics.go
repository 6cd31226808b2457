package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts transcription pipeline runs.
	// Labels: operation (transcribe/file_info), outcome (ok or an error code)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxserve_requests_total",
			Help: "Total number of pipeline requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxserve_inference_duration_seconds",
			Help:    "Model inference duration in seconds by engine and status",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"engine", "status"},
	)

	AudioDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxserve_audio_duration_seconds",
			Help:    "Duration of decoded audio in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// GateWaiting is the number of requests queued at the admission gate.
	GateWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxserve_inference_waiting",
			Help: "Requests waiting for an inference slot",
		},
	)

	ModelDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxserve_model_downloads_total",
			Help: "Model download attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ModelLoaded is 1 once the model handle finished loading.
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxserve_model_loaded",
			Help: "Model load status (0=not loaded, 1=loaded)",
		},
	)
)

func RecordRequest(operation, outcome string) {
	RequestsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveInference(engine string, took time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	InferenceDuration.WithLabelValues(engine, status).Observe(took.Seconds())
}

func ObserveAudio(seconds float64) {
	AudioDuration.Observe(seconds)
}

func RecordModelDownload(outcome string) {
	ModelDownloads.WithLabelValues(outcome).Inc()
}
