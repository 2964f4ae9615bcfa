// Package gc removes blocks that no dataset references any more.
//
// Copy-on-write volumes never delete a block when a file is overwritten,
// truncated or removed, because the live dataset and its snapshots share
// blocks. Blocks become orphaned when the last reference goes away:
//   - A file is removed or rewritten and no snapshot still holds the old data
//   - A snapshot is destroyed
//   - A write fails after its blocks were stored
//
// The collector finds the blocks present in the block store but absent
// from every dataset's metadata and deletes them.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/blockstore"
)

// Volume is the metadata side of a collection.
//
// *cow.Volume implements it.
type Volume interface {
	// Blocks returns the block store to sweep
	Blocks() blockstore.Store

	// WithReferencedBlocks calls fn with every referenced block while no
	// new reference can be added
	WithReferencedBlocks(ctx context.Context, fn func(referenced map[blockstore.ID]struct{}) error) error
}

// Collector performs garbage collection of orphaned blocks.
//
// The collector can run:
//   - Periodically (background worker started by Start)
//   - On-demand (RunNow)
//
// Thread Safety:
// Safe for concurrent use. The volume serializes a sweep against writers.
type Collector struct {
	vol    Volume
	config Config

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config contains garbage collection configuration.
type Config struct {
	// Enabled starts the periodic worker
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between periodic runs (default: 24h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// BatchSize is the number of deletions between cancellation checks and
	// progress logs (default: 1000)
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"omitempty,min=1"`

	// DryRun reports orphans without deleting them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// NewCollector creates a collector for vol.
//
// Returns an error if the volume's block store cannot list its blocks.
func NewCollector(vol Volume, config Config) (*Collector, error) {
	if !blockstore.CanList(vol.Blocks()) {
		return nil, fmt.Errorf("block store does not support listing, garbage collection unavailable")
	}

	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}

	return &Collector{
		vol:    vol,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins the background worker. A disabled collector does nothing.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		close(c.doneCh)
		return
	}

	logger.Info("Starting garbage collector: interval=%s batch_size=%d dry_run=%v",
		c.config.Interval, c.config.BatchSize, c.config.DryRun)

	go c.worker()
}

// Stop signals the worker to stop and waits for a running collection to
// finish or ctx to expire.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection synchronously.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Interval)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect runs the three phases: gather references, list stored blocks,
// delete the difference.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	blocks := c.vol.Blocks()

	err := c.vol.WithReferencedBlocks(ctx, func(referenced map[blockstore.ID]struct{}) error {
		stats.ReferencedCount = uint64(len(referenced))
		logger.Debug("GC: %d referenced blocks", stats.ReferencedCount)

		var orphaned []blockstore.ID
		err := blockstore.List(ctx, blocks, func(id blockstore.ID) error {
			stats.ExistingCount++
			if _, ok := referenced[id]; !ok {
				orphaned = append(orphaned, id)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to list blocks: %w", err)
		}
		stats.OrphanedCount = uint64(len(orphaned))

		if len(orphaned) == 0 {
			return nil
		}

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would delete %d blocks", stats.OrphanedCount)
			for i, id := range orphaned {
				if i == 10 {
					logger.Info("  ... and %d more", len(orphaned)-10)
					break
				}
				logger.Info("  - %s", id)
			}
			return nil
		}

		for i, id := range orphaned {
			if i%c.config.BatchSize == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				if i > 0 {
					logger.Debug("GC: deleted %d/%d orphaned blocks", i, len(orphaned))
				}
			}
			if err := blocks.Delete(ctx, id); err != nil {
				logger.Debug("GC: failed to delete %s: %v", id, err)
				stats.FailedCount++
				continue
			}
			stats.DeletedCount++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	logger.Info("GC: %s", stats.Summary())
	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ReferencedCount uint64    // Distinct blocks referenced by some dataset
	ExistingCount   uint64    // Blocks present in the block store
	OrphanedCount   uint64    // Blocks present but unreferenced
	DeletedCount    uint64    // Orphans deleted
	FailedCount     uint64    // Orphans that could not be deleted
}

// Duration returns how long the collection took.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the statistics.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
