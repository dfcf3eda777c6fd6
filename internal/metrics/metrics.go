package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexvmeta/internal/domain"
)

var (
	once sync.Once

	// ModelCallsTotal counts model invocations by provider, pass and outcome.
	ModelCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexvmeta",
		Name:      "model_calls_total",
		Help:      "Total number of model calls, labeled by provider, pass and result.",
	}, []string{"provider", "pass", "result"})

	// ModelCallDurationSeconds is the wall time of a single model call.
	ModelCallDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexvmeta",
		Name:      "model_call_duration_seconds",
		Help:      "Duration of a single model call.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"provider"})

	// RetriesTotal counts scheduled retries by error class.
	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexvmeta",
		Name:      "retries_total",
		Help:      "Total number of retries scheduled, labeled by error class.",
	}, []string{"class"})

	// AnalysesTotal counts finished analyses by outcome.
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexvmeta",
		Name:      "analyses_total",
		Help:      "Total number of image analyses, labeled by result.",
	}, []string{"result"})

	// AnalysisDurationSeconds is end-to-end time per analysis including retries.
	AnalysisDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nexvmeta",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end duration of an image analysis including upload and retries.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	// QueueItems is the current number of queue items per status.
	QueueItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexvmeta",
		Name:      "queue_items",
		Help:      "Number of batch queue items, labeled by status.",
	}, []string{"status"})

	// StorageUploadsTotal counts object uploads by driver and outcome.
	StorageUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexvmeta",
		Name:      "storage_uploads_total",
		Help:      "Total number of storage uploads, labeled by driver and result.",
	}, []string{"driver", "result"})
)

// Register registers the collectors with the default registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ModelCallsTotal,
			ModelCallDurationSeconds,
			RetriesTotal,
			AnalysesTotal,
			AnalysisDurationSeconds,
			QueueItems,
			StorageUploadsTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveModelCall(provider, pass string, d time.Duration, err error) {
	ModelCallsTotal.WithLabelValues(provider, pass, resultLabel(err)).Inc()
	ModelCallDurationSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

func ObserveRetry(class domain.ErrorClass) {
	RetriesTotal.WithLabelValues(string(class)).Inc()
}

func ObserveAnalysis(d time.Duration, err error) {
	AnalysesTotal.WithLabelValues(resultLabel(err)).Inc()
	AnalysisDurationSeconds.Observe(d.Seconds())
}

func ObserveUpload(driver string, err error) {
	StorageUploadsTotal.WithLabelValues(driver, resultLabel(err)).Inc()
}

// SetQueueCounts replaces the per-status gauge values.
func SetQueueCounts(counts map[domain.QueueStatus]int) {
	for _, status := range []domain.QueueStatus{
		domain.QueueStatusPending,
		domain.QueueStatusUploading,
		domain.QueueStatusAnalyzing,
		domain.QueueStatusDone,
		domain.QueueStatusError,
	} {
		QueueItems.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
