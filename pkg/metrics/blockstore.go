package metrics

import "time"

// BlockStoreMetrics observes block store calls.
//
// Implementations must be safe for concurrent use.
type BlockStoreMetrics interface {
	// RecordOperation records one block store call.
	//
	// Parameters:
	//   - operation: "put", "get", "has" or "delete"
	//   - duration: Time spent in the call
	//   - bytes: Block size for put and get, 0 otherwise
	//   - err: The returned error, nil on success
	RecordOperation(operation string, duration time.Duration, bytes int, err error)
}

// NewNoopBlockStoreMetrics returns a BlockStoreMetrics that discards
// everything.
func NewNoopBlockStoreMetrics() BlockStoreMetrics {
	return noopBlockStoreMetrics{}
}

type noopBlockStoreMetrics struct{}

func (noopBlockStoreMetrics) RecordOperation(string, time.Duration, int, error) {}
