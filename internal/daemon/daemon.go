// Package daemon runs agctl in long-lived supervisor mode: scheduled
// maintenance passes, configuration reload on file change, and an HTTP
// listener exposing health, fleet status, and Prometheus metrics.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/lifecycle"
	"github.com/antigravity-ops/agctl/internal/logfields"
	"github.com/antigravity-ops/agctl/internal/maintenance"
	"github.com/antigravity-ops/agctl/internal/report"
	"github.com/antigravity-ops/agctl/internal/telemetry"
)

// Daemon supervises a deployment: it keeps the maintenance schedule, watches
// the configuration file, and serves the health/metrics listener.
type Daemon struct {
	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	prom      *telemetry.PrometheusRecorder
	sys       *telemetry.System
	rep       *report.Reporter
	scheduler *Scheduler
	watcher   *ConfigWatcher
	httpSrv   *http.Server

	startTime time.Time
	stopOnce  sync.Once
}

// New creates a daemon for the given configuration. The config path is kept
// so the watcher can reload the file when it changes.
func New(configPath string, cfg *config.Config) (*Daemon, error) {
	sched, err := NewScheduler()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		configPath: configPath,
		cfg:        cfg,
		prom:       telemetry.NewPrometheusRecorder(prom.NewRegistry()),
		sys:        telemetry.NewSystem(),
		rep:        report.New(cfg.AgentID, cfg.ReportEndpoint),
		scheduler:  sched,
		startTime:  time.Now(),
	}

	watcher, err := NewConfigWatcher(configPath, d)
	if err != nil {
		sched.Stop()
		return nil, err
	}
	d.watcher = watcher
	return d, nil
}

// Config returns the current configuration snapshot.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Recorder returns the telemetry recorder backing the /metrics endpoint.
func (d *Daemon) Recorder() telemetry.Recorder { return d.prom }

// Start brings up the scheduler, the config watcher, and the HTTP listener.
// It returns once everything is running; Stop shuts it all down.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.Config()

	if err := d.scheduler.ScheduleMaintenance(cfg.Maintenance.Schedule, d.runMaintenance); err != nil {
		return err
	}
	d.scheduler.Start()

	if err := d.watcher.Start(ctx); err != nil {
		d.scheduler.Stop()
		return err
	}

	d.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Daemon listener started", "addr", cfg.ListenAddr)
		if err := d.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Daemon listener failed", logfields.Error(err))
		}
	}()

	slog.Info("Daemon started",
		logfields.Schedule(cfg.Maintenance.Schedule), "config", d.configPath)
	return nil
}

// Stop shuts the daemon down in reverse start order. Safe to call more than
// once.
func (d *Daemon) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		slog.Info("Daemon stopping")
		if d.httpSrv != nil {
			if e := d.httpSrv.Shutdown(ctx); e != nil {
				err = errors.Join(err, fmt.Errorf("shutdown listener: %w", e))
			}
		}
		if e := d.watcher.Stop(); e != nil {
			err = errors.Join(err, e)
		}
		if e := d.scheduler.Stop(); e != nil {
			err = errors.Join(err, e)
		}
	})
	return err
}

// Run starts the daemon and blocks until the context is canceled, then shuts
// down with a fresh timeout.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

// ReloadConfig swaps in a freshly loaded configuration and reschedules the
// maintenance job when its cron expression changed. Listener address changes
// require a daemon restart and are only logged.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	d.mu.Lock()
	old := d.cfg
	d.cfg = newCfg
	d.mu.Unlock()

	if old.ListenAddr != newCfg.ListenAddr {
		slog.Warn("Listener address change requires a daemon restart",
			"old", old.ListenAddr, "new", newCfg.ListenAddr)
	}
	if old.Maintenance.Schedule != newCfg.Maintenance.Schedule {
		if err := d.scheduler.RescheduleMaintenance(newCfg.Maintenance.Schedule, d.runMaintenance); err != nil {
			return err
		}
		slog.Info("Maintenance rescheduled", logfields.Schedule(newCfg.Maintenance.Schedule))
	}
	d.sys.RecordEvent("config_reloaded", map[string]any{"path": d.configPath})
	return nil
}

// runMaintenance is the scheduled job body.
func (d *Daemon) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg := d.Config()
	res, err := maintenance.NewRunner(cfg, d.prom).Run(ctx)
	if err != nil {
		slog.Error("Scheduled maintenance failed", logfields.Error(err))
		d.rep.Error(ctx, fmt.Sprintf("maintenance: %v", err))
		d.sys.RecordEvent("maintenance_failed", map[string]any{"error": err.Error()})
		return
	}
	d.sys.RecordMetric("maintenance.duration_ms", float64(res.Duration.Milliseconds()), nil)
	d.sys.RecordEvent("maintenance_completed", map[string]any{
		"cache_removed": res.CacheRemoved,
		"tasks_purged":  res.TasksPurged,
		"logs_rotated":  len(res.LogsRotated),
	})
}

// manager builds a lifecycle manager against the current configuration for
// status queries from the HTTP handlers.
func (d *Daemon) manager() *lifecycle.Manager {
	return lifecycle.NewManager(d.Config()).WithRecorder(d.prom).WithReporter(d.rep)
}
