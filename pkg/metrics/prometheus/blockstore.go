package prometheus

import (
	"time"

	"github.com/marmos91/fsal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// blockStoreMetrics is the Prometheus implementation of
// metrics.BlockStoreMetrics.
type blockStoreMetrics struct {
	storeType         string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewBlockStoreMetrics creates Prometheus-backed block store metrics.
//
// Parameters:
//   - storeType: Block store type ("memory", "fs", "s3"), used as a label
func NewBlockStoreMetrics(storeType string) metrics.BlockStoreMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopBlockStoreMetrics()
	}

	reg := metrics.GetRegistry()

	return &blockStoreMetrics{
		storeType: storeType,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsal_blockstore_operations_total",
				Help: "Total number of block store operations by store type, operation, and status",
			},
			[]string{"store_type", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fsal_blockstore_operation_duration_seconds",
				Help: "Duration of block store operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.025,  // 25ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"store_type", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsal_blockstore_bytes_total",
				Help: "Total block bytes moved by store type and operation",
			},
			[]string{"store_type", "operation"},
		),
	}
}

func (m *blockStoreMetrics) RecordOperation(operation string, duration time.Duration, bytes int, err error) {
	m.operationsTotal.WithLabelValues(m.storeType, operation, metrics.Status(err)).Inc()
	m.operationDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		m.bytesTransferred.WithLabelValues(m.storeType, operation).Add(float64(bytes))
	}
}
