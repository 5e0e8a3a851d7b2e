// Package lifecycle implements the relaunch cycle for the managed fleet:
// terminate whatever owns the fleet ports, wipe the cache directory, and
// bring the processes back up detached with per-process log files.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-ops/agctl/internal/cache"
	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/logfields"
	"github.com/antigravity-ops/agctl/internal/ports"
	"github.com/antigravity-ops/agctl/internal/report"
	"github.com/antigravity-ops/agctl/internal/telemetry"
)

// Stage names used for telemetry and logging.
const (
	StageStop       = "stop"
	StageClearCache = "clear_cache"
	StageStart      = "start"
)

// Manager drives the fleet lifecycle described by the configuration.
type Manager struct {
	cfg *config.Config
	rec telemetry.Recorder
	rep *report.Reporter
}

// NewManager creates a lifecycle manager with no-op observability.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg, rec: telemetry.NoopRecorder{}}
}

// WithRecorder injects a telemetry recorder.
func (m *Manager) WithRecorder(rec telemetry.Recorder) *Manager {
	if rec != nil {
		m.rec = rec
	}
	return m
}

// WithReporter injects a dashboard reporter (nil disables reporting).
func (m *Manager) WithReporter(rep *report.Reporter) *Manager {
	m.rep = rep
	return m
}

// Stop terminates the owner of every fleet port. Ports with no listener are
// skipped: "already stopped" is success, exactly as the old scripts treated
// it. Termination failures on one port do not prevent the others from being
// handled.
func (m *Manager) Stop(ctx context.Context) error {
	started := time.Now()
	var errs []error

	for _, p := range m.cfg.Fleet {
		if p.Port == 0 {
			continue
		}
		l, err := ports.Terminate(ctx, p.Port, m.cfg.StopGrace)
		switch {
		case errors.Is(err, ports.ErrNoListener):
			slog.Debug("Nothing listening, skipping", logfields.Process(p.Name), logfields.Port(p.Port))
		case err != nil:
			slog.Error("Failed to terminate process", logfields.Process(p.Name), logfields.Port(p.Port), logfields.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", p.Name, err))
		default:
			slog.Info("Process terminated", logfields.Process(p.Name), logfields.Port(p.Port), logfields.PID(l.PID))
		}
	}

	d := time.Since(started)
	m.rec.ObserveStageDuration(StageStop, d)
	if len(errs) > 0 {
		m.rec.IncStageResult(StageStop, telemetry.ResultFatal)
		return errors.Join(errs...)
	}
	m.rec.IncStageResult(StageStop, telemetry.ResultSuccess)
	return nil
}

// ClearCache destroys and recreates the cache directory.
func (m *Manager) ClearCache() error {
	started := time.Now()
	if err := cache.Clear(m.cfg.CacheDir); err != nil {
		m.rec.IncStageResult(StageClearCache, telemetry.ResultFatal)
		return err
	}
	m.rec.ObserveStageDuration(StageClearCache, time.Since(started))
	m.rec.IncStageResult(StageClearCache, telemetry.ResultSuccess)
	slog.Info("Cache directory cleared", "dir", m.cfg.CacheDir)
	return nil
}

// Start launches every fleet process in order and waits for each to become
// ready before moving on. A process failing to launch or become ready does
// not abort the rest of the fleet; the joined error names every failure.
func (m *Manager) Start(ctx context.Context) error {
	started := time.Now()
	m.rec.SetFleetSize(len(m.cfg.Fleet))

	var errs []error
	for _, p := range m.cfg.Fleet {
		if err := ctx.Err(); err != nil {
			m.rec.IncStageResult(StageStart, telemetry.ResultCanceled)
			return err
		}

		launchStart := time.Now()
		pid, logPath, err := m.launch(p)
		if err != nil {
			slog.Error("Failed to launch process", logfields.Process(p.Name), logfields.Error(err))
			m.rec.ObserveProcessStart(p.Name, time.Since(launchStart), false)
			errs = append(errs, fmt.Errorf("start %s: %w", p.Name, err))
			continue
		}
		slog.Info("Process launched",
			logfields.Process(p.Name), logfields.PID(int32(pid)), logfields.LogFile(logPath))

		if err := m.waitReady(ctx, p, pid, logPath); err != nil {
			slog.Error("Process not ready", logfields.Process(p.Name), logfields.Error(err))
			m.rec.ObserveProcessStart(p.Name, time.Since(launchStart), false)
			errs = append(errs, err)
			continue
		}
		m.rec.ObserveProcessStart(p.Name, time.Since(launchStart), true)
	}

	d := time.Since(started)
	m.rec.ObserveStageDuration(StageStart, d)
	if len(errs) > 0 {
		m.rec.IncStageResult(StageStart, telemetry.ResultFatal)
		return errors.Join(errs...)
	}
	m.rec.IncStageResult(StageStart, telemetry.ResultSuccess)
	return nil
}

// Restart runs the full relaunch cycle: stop, clear cache, start. keepCache
// skips the wipe for debugging a warm cache.
func (m *Manager) Restart(ctx context.Context, keepCache bool) error {
	cycleID := uuid.NewString()[:8]
	started := time.Now()

	names := make([]string, len(m.cfg.Fleet))
	for i, p := range m.cfg.Fleet {
		names[i] = p.Name
	}
	m.rep.CycleStart(ctx, cycleID, names)
	slog.Info("Relaunch cycle starting", logfields.CycleID(cycleID), "fleet", len(names))

	err := m.runCycle(ctx, keepCache)

	d := time.Since(started)
	m.rec.ObserveCycleDuration(d)
	m.rep.CycleComplete(ctx, cycleID, d, err == nil)
	if err != nil {
		m.rep.Error(ctx, err.Error())
		return fmt.Errorf("relaunch cycle %s: %w", cycleID, err)
	}
	slog.Info("Relaunch cycle completed", logfields.CycleID(cycleID), logfields.DurationMS(float64(d.Milliseconds())))
	return nil
}

func (m *Manager) runCycle(ctx context.Context, keepCache bool) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	if !keepCache {
		if err := m.ClearCache(); err != nil {
			return err
		}
	}
	return m.Start(ctx)
}

// ProcessStatus is one fleet entry's observable state. Port-less processes
// cannot be resolved through the port table and report PID 0; the deployment
// never persisted process IDs, so the port table is the only source of truth.
type ProcessStatus struct {
	Name       string
	Port       int
	PID        int32
	Listening  bool
	LogFile    string
	LogSize    int64
	LogModTime time.Time
}

// Status reports the observable state of every fleet process.
func (m *Manager) Status(ctx context.Context) ([]ProcessStatus, error) {
	statuses := make([]ProcessStatus, 0, len(m.cfg.Fleet))
	for _, p := range m.cfg.Fleet {
		st := ProcessStatus{
			Name:    p.Name,
			Port:    p.Port,
			LogFile: filepath.Join(m.cfg.LogDir, p.LogFile),
		}

		if p.Port != 0 {
			l, err := ports.FindListener(ctx, p.Port)
			switch {
			case errors.Is(err, ports.ErrNoListener):
				// not running
			case err != nil:
				return nil, fmt.Errorf("status %s: %w", p.Name, err)
			default:
				st.PID = l.PID
				st.Listening = true
			}
		}

		if info, err := statFile(st.LogFile); err == nil {
			st.LogSize = info.Size()
			st.LogModTime = info.ModTime()
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
