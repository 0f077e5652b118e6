package prometheus

import (
	"github.com/gitvfsd/gitvfsd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rbopMetrics is the Prometheus implementation of metrics.RBOPMetrics.
type rbopMetrics struct {
	queueDepth      prometheus.Gauge
	itemsProcessed  prometheus.Counter
	itemsRetried    prometheus.Counter
	gitLockHeldSecs prometheus.Histogram
	progressReports prometheus.Counter
}

// NewRBOPMetrics creates a new Prometheus-backed RBOPMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewRBOPMetrics() metrics.RBOPMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRBOPMetrics()
	}

	reg := metrics.GetRegistry()

	return &rbopMetrics{
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gitvfsd_rbop_queue_depth",
			Help: "Current number of pending background operations",
		}),
		itemsProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvfsd_rbop_items_processed_total",
			Help: "Total number of background operations processed successfully",
		}),
		itemsRetried: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvfsd_rbop_items_retried_total",
			Help: "Total number of RetryableError outcomes observed while draining",
		}),
		gitLockHeldSecs: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "gitvfsd_rbop_gitlock_held_seconds",
			Help:    "Duration GitLock was held for one drain cycle",
			Buckets: prometheus.DefBuckets,
		}),
		progressReports: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvfsd_rbop_progress_reports_total",
			Help: "Total number of TaskProcessingStatus progress events emitted",
		}),
	}
}

func (m *rbopMetrics) QueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *rbopMetrics) ItemProcessed() {
	m.itemsProcessed.Inc()
}

func (m *rbopMetrics) ItemRetried() {
	m.itemsRetried.Inc()
}

func (m *rbopMetrics) GitLockHeld(seconds float64) {
	m.gitLockHeldSecs.Observe(seconds)
}

func (m *rbopMetrics) ProgressReported(processed, remaining int) {
	m.progressReports.Inc()
}
