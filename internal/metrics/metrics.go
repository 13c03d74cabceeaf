package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// InferenceTotal counts model runs by role and result.
	InferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "damage_api",
		Subsystem: "inference",
		Name:      "runs_total",
		Help:      "Total number of model runs, labeled by role and result.",
	}, []string{"role", "result"})

	// InferenceDurationSeconds is the forward pass time per role, preprocessing excluded.
	InferenceDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "damage_api",
		Subsystem: "inference",
		Name:      "duration_seconds",
		Help:      "Time spent in a single model forward pass.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"role"})

	// PreprocessDurationSeconds is decode plus letterbox time per upload.
	PreprocessDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "damage_api",
		Subsystem: "imaging",
		Name:      "preprocess_duration_seconds",
		Help:      "Time spent decoding and letterboxing an uploaded image.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// UploadBytes is the size distribution of accepted uploads.
	UploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "damage_api",
		Subsystem: "http",
		Name:      "upload_bytes",
		Help:      "Size of accepted image uploads.",
		Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 7),
	})

	// RequestsTotal counts API responses by endpoint and error code ("OK" on success).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "damage_api",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of prediction requests, labeled by endpoint and response code.",
	}, []string{"endpoint", "code"})

	// ModelLoaded is 1 for each role with a loaded model.
	ModelLoaded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "damage_api",
		Subsystem: "registry",
		Name:      "model_loaded",
		Help:      "Whether the model for a role is loaded.",
	}, []string{"role"})

	// FrameworkAvailable is 1 when the inference runtime initialized.
	FrameworkAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "damage_api",
		Subsystem: "registry",
		Name:      "framework_available",
		Help:      "Whether the ONNX Runtime environment initialized.",
	})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			InferenceTotal,
			InferenceDurationSeconds,
			PreprocessDurationSeconds,
			UploadBytes,
			RequestsTotal,
			ModelLoaded,
			FrameworkAvailable,
		)
	})
}

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
