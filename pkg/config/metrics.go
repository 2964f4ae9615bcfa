package config

import (
	"github.com/marmos91/fsal/pkg/metrics"
	promMetrics "github.com/marmos91/fsal/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	enabled bool
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//
// If metrics are disabled the result hands out no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Host: cfg.Server.Metrics.Host,
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{Server: server, enabled: true}
}

// ExportMetrics returns the collector for the export called name. Never nil.
func (r *MetricsResult) ExportMetrics(name string) metrics.ExportMetrics {
	if r == nil || !r.enabled {
		return metrics.NewNoopExportMetrics()
	}
	return promMetrics.NewExportMetrics(name)
}

// BlockStoreMetrics returns the collector for a block store of the given
// type, or nil when metrics are disabled (blockstore.NewInstrumented then
// leaves the store unwrapped).
func (r *MetricsResult) BlockStoreMetrics(storeType string) metrics.BlockStoreMetrics {
	if r == nil || !r.enabled {
		return nil
	}
	return promMetrics.NewBlockStoreMetrics(storeType)
}
