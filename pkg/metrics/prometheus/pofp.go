package prometheus

import (
	"github.com/gitvfsd/gitvfsd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pofpMetrics is the Prometheus implementation of metrics.POFPMetrics.
type pofpMetrics struct {
	activeDownloads prometheus.Gauge
	bytesDownloaded prometheus.Counter
	requestsTotal   prometheus.Counter
	batchesFailed   prometheus.Counter
}

// NewPOFPMetrics creates a new Prometheus-backed POFPMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewPOFPMetrics() metrics.POFPMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPOFPMetrics()
	}

	reg := metrics.GetRegistry()

	return &pofpMetrics{
		activeDownloads: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gitvfsd_pofp_active_downloads",
			Help: "Current number of in-flight object downloads (DownloadHeartbeat)",
		}),
		bytesDownloaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvfsd_pofp_bytes_downloaded_total",
			Help: "Total bytes received across loose object and pack responses",
		}),
		requestsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvfsd_pofp_requests_total",
			Help: "Total number of completed HTTP requests to object endpoints",
		}),
		batchesFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvfsd_pofp_batches_failed_total",
			Help: "Total number of batches that exhausted retries",
		}),
	}
}

func (m *pofpMetrics) Heartbeat(activeDownloads int) {
	m.activeDownloads.Set(float64(activeDownloads))
}

func (m *pofpMetrics) BytesDownloaded(n int64) {
	m.bytesDownloaded.Add(float64(n))
}

func (m *pofpMetrics) RequestCompleted() {
	m.requestsTotal.Inc()
}

func (m *pofpMetrics) BatchFailed() {
	m.batchesFailed.Inc()
}
