// Package prometheus provides the Prometheus implementations of the
// metrics interfaces.
package prometheus

import (
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// exportMetrics is the Prometheus implementation of metrics.ExportMetrics.
type exportMetrics struct {
	export            string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	openSessions      prometheus.Gauge
	mountedSnapshots  prometheus.Gauge
}

// NewExportMetrics creates Prometheus-backed export metrics labeled with
// the export name.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewExportMetrics(export string) metrics.ExportMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopExportMetrics()
	}

	reg := metrics.GetRegistry()
	constLabels := prometheus.Labels{"export": export}

	return &exportMetrics{
		export: export,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsal_export_operations_total",
				Help: "Total number of export operations by operation, status, and error code",
			},
			[]string{"export", "operation", "status", "error_code"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fsal_export_operation_duration_seconds",
				Help: "Duration of export operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"export", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsal_export_bytes_total",
				Help: "Total bytes moved by I/O sessions by direction",
			},
			[]string{"export", "direction"},
		),
		openSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name:        "fsal_export_open_sessions",
				Help:        "Current number of open I/O sessions",
				ConstLabels: constLabels,
			},
		),
		mountedSnapshots: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name:        "fsal_export_mounted_snapshots",
				Help:        "Number of snapshot instances in the mount registry",
				ConstLabels: constLabels,
			},
		),
	}
}

func (m *exportMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	code := ""
	if err != nil {
		code = fsal.CodeOf(err).Label()
	}
	m.operationsTotal.WithLabelValues(m.export, operation, metrics.Status(err), code).Inc()
	m.operationDuration.WithLabelValues(m.export, operation).Observe(duration.Seconds())
}

func (m *exportMetrics) RecordBytes(direction string, bytes int) {
	if bytes > 0 {
		m.bytesTransferred.WithLabelValues(m.export, direction).Add(float64(bytes))
	}
}

func (m *exportMetrics) SetOpenSessions(count int) {
	m.openSessions.Set(float64(count))
}

func (m *exportMetrics) SetMountedSnapshots(count int) {
	m.mountedSnapshots.Set(float64(count))
}
