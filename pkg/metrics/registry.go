// Package metrics provides optional Prometheus metrics for exports and
// block stores.
//
// All metrics are optional: when InitRegistry has not been called the
// constructors return no-op implementations, and every component also
// accepts a nil metrics value.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewExportMetrics("tank")
//	exp, err := export.New(reg, export.Options{Metrics: m})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the process-wide Prometheus registry.
//
// It is safe to call multiple times; only the first call has an effect.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Status returns the status label of an operation outcome.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
