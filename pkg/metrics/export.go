package metrics

import "time"

// ExportMetrics observes the operations of one export.
//
// Implementations must be safe for concurrent use. Exports treat a nil
// ExportMetrics as a no-op.
type ExportMetrics interface {
	// RecordOperation records one entry point call.
	//
	// Parameters:
	//   - operation: Entry point name (e.g., "lookup", "write", "setxattr")
	//   - duration: Time spent in the call
	//   - err: The returned error, nil on success
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordBytes records data moved by a session.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytes(direction string, bytes int)

	// SetOpenSessions updates the number of open I/O sessions.
	SetOpenSessions(count int)

	// SetMountedSnapshots updates the number of snapshot instances in the
	// export's mount registry.
	SetMountedSnapshots(count int)
}

// NewNoopExportMetrics returns an ExportMetrics that discards everything.
func NewNoopExportMetrics() ExportMetrics {
	return noopExportMetrics{}
}

type noopExportMetrics struct{}

func (noopExportMetrics) RecordOperation(string, time.Duration, error) {}
func (noopExportMetrics) RecordBytes(string, int)                      {}
func (noopExportMetrics) SetOpenSessions(int)                          {}
func (noopExportMetrics) SetMountedSnapshots(int)                      {}
