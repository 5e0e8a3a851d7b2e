// Package maintenance implements the nightly housekeeping pass: expired
// cache entries are swept, the persistent memory database is purged and
// compacted, and oversized process logs are rotated.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/antigravity-ops/agctl/internal/cache"
	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/logfields"
	"github.com/antigravity-ops/agctl/internal/memory"
	"github.com/antigravity-ops/agctl/internal/telemetry"
)

// Result reports what one maintenance pass did.
type Result struct {
	CacheRemoved    int
	CacheBytesFreed int64
	TasksPurged     int64
	LogsRotated     []string
	Duration        time.Duration
}

// Runner executes maintenance passes against the configured deployment.
type Runner struct {
	cfg *config.Config
	rec telemetry.Recorder
}

// NewRunner creates a maintenance runner. A nil recorder disables metrics.
func NewRunner(cfg *config.Config, rec telemetry.Recorder) *Runner {
	if rec == nil {
		rec = telemetry.NoopRecorder{}
	}
	return &Runner{cfg: cfg, rec: rec}
}

// Run executes one full maintenance pass. Absent cache directories or memory
// databases are skipped, not errors: maintenance may run before the first
// fleet start.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	var res Result

	if err := r.sweepCache(ctx, &res); err != nil {
		return res, err
	}
	if err := r.optimizeMemory(ctx, &res); err != nil {
		return res, err
	}
	if err := r.rotateLogs(&res); err != nil {
		return res, err
	}

	res.Duration = time.Since(started)
	r.rec.ObserveMaintenanceDuration("total", res.Duration)
	slog.Info("Maintenance completed",
		"cache_removed", res.CacheRemoved,
		"cache_bytes_freed", res.CacheBytesFreed,
		"tasks_purged", res.TasksPurged,
		"logs_rotated", len(res.LogsRotated),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res, nil
}

func (r *Runner) sweepCache(ctx context.Context, res *Result) error {
	if _, err := os.Stat(r.cfg.CacheDir); os.IsNotExist(err) {
		slog.Debug("No cache directory, skipping sweep", "dir", r.cfg.CacheDir)
		return nil
	}

	started := time.Now()
	c, err := cache.Open(r.cfg.CacheDir, r.cfg.CacheMaxSizeBytes())
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close cache", logfields.Error(err))
		}
	}()

	swept, err := c.Sweep(time.Now())
	if err != nil {
		return fmt.Errorf("sweep cache: %w", err)
	}
	res.CacheRemoved = swept.Removed
	res.CacheBytesFreed = swept.BytesFreed
	r.rec.ObserveMaintenanceDuration("cache_sweep", time.Since(started))
	return nil
}

func (r *Runner) optimizeMemory(ctx context.Context, res *Result) error {
	if _, err := os.Stat(r.cfg.MemoryDB); os.IsNotExist(err) {
		slog.Debug("No memory database, skipping optimize", "path", r.cfg.MemoryDB)
		return nil
	}

	started := time.Now()
	store, err := memory.Open(r.cfg.MemoryDB)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close memory store", logfields.Error(err))
		}
	}()

	cutoff := time.Now().Add(-r.cfg.Maintenance.TaskRetention)
	purged, err := store.Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge task history: %w", err)
	}
	res.TasksPurged = purged

	if err := store.Optimize(ctx); err != nil {
		return fmt.Errorf("optimize memory store: %w", err)
	}
	r.rec.ObserveMaintenanceDuration("memory_optimize", time.Since(started))
	return nil
}
