package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/daemon"
	"github.com/antigravity-ops/agctl/internal/lifecycle"
	"github.com/antigravity-ops/agctl/internal/maintenance"
	"github.com/antigravity-ops/agctl/internal/mission"
	"github.com/antigravity-ops/agctl/internal/report"
	"github.com/antigravity-ops/agctl/internal/retry"
	"github.com/antigravity-ops/agctl/internal/telemetry"
	"github.com/antigravity-ops/agctl/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"antigravity.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Stop struct {
		Now bool `help:"Kill immediately instead of SIGTERM with a grace period"`
	} `cmd:"" help:"Terminate every fleet process bound to a managed port"`

	Start struct{} `cmd:"" help:"Launch the fleet detached with per-process log files"`

	Restart struct {
		KeepCache bool `help:"Skip the cache wipe between stop and start"`
	} `cmd:"" help:"Run the full relaunch cycle: stop, clear cache, start"`

	Status struct{} `cmd:"" help:"Show listener and log state for every fleet process"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a configuration file describing the default fleet"`

	Maintain struct {
		Schedule string `help:"Run continuously on this cron schedule instead of once (implies daemon mode)"`
	} `cmd:"" help:"Run one maintenance pass: cache sweep, memory compaction, log rotation"`

	Daemon struct{} `cmd:"" help:"Run in supervisor mode: scheduled maintenance, config reload, health listener"`

	Inject struct {
		To          string  `required:"" help:"Target agent ID"`
		Type        string  `default:"general" help:"Task type"`
		Description string  `required:"" help:"Task description"`
		Command     string  `help:"Shell command payload for shell_commands tasks"`
		Duration    float64 `help:"Estimated duration in seconds"`
		From        string  `default:"USER_COMMAND_CENTER" help:"Delegating identity"`
	} `cmd:"" help:"Delegate a one-shot task through the coordination server"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{"version": version.Version})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := run(ctx.Command()); err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

func run(command string) error {
	// init must work even when the existing file fails to load.
	if command == "init" {
		return runInit()
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "stop":
		if CLI.Stop.Now {
			cfg.StopGrace = 0
		}
		return runLifecycle(cfg, func(m *lifecycle.Manager) error { return m.Stop(ctx) })
	case "start":
		return runLifecycle(cfg, func(m *lifecycle.Manager) error { return m.Start(ctx) })
	case "restart":
		return runLifecycle(cfg, func(m *lifecycle.Manager) error { return m.Restart(ctx, CLI.Restart.KeepCache) })
	case "status":
		return runStatus(ctx, cfg)
	case "maintain":
		if CLI.Maintain.Schedule != "" {
			cfg.Maintenance.Schedule = CLI.Maintain.Schedule
			return runDaemon(ctx, cfg)
		}
		return runMaintain(ctx, cfg)
	case "daemon":
		return runDaemon(ctx, cfg)
	case "inject":
		return runInject(ctx, cfg)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// newLifecycle builds the manager the lifecycle commands run against. The
// telemetry system collects per-stage durations and outcome counters for the
// run; the reporter posts cycle events to the dashboard.
func newLifecycle(cfg *config.Config) (*lifecycle.Manager, *telemetry.System) {
	sys := telemetry.NewSystem()
	m := lifecycle.NewManager(cfg).
		WithRecorder(sys).
		WithReporter(report.New(cfg.AgentID, cfg.ReportEndpoint))
	return m, sys
}

// runLifecycle executes one lifecycle operation and logs the telemetry
// summaries it produced. The summaries land at debug level, so -v shows them.
func runLifecycle(cfg *config.Config, op func(*lifecycle.Manager) error) error {
	m, sys := newLifecycle(cfg)
	err := op(m)
	for _, name := range sys.MetricNames() {
		if s, ok := sys.Summary(name, 0); ok {
			slog.Debug("Telemetry summary",
				"metric", name, "count", s.Count, "mean", s.Mean, "max", s.Max)
		}
	}
	return err
}

// runInit writes the default config and provisions the deployment layout the
// old setup script created: cache and log directories, plus a check that each
// fleet command is actually installed.
func runInit() error {
	slog.Info("Initializing configuration", "path", CLI.Config, "force", CLI.Init.Force)
	if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
		return err
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load written configuration: %w", err)
	}
	for _, dir := range []string{cfg.CacheDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	for _, p := range cfg.Fleet {
		if _, err := exec.LookPath(p.Command); err != nil {
			slog.Warn("Fleet command not found in PATH", "process", p.Name, "command", p.Command)
		}
	}
	slog.Info("Deployment initialized", "cache_dir", cfg.CacheDir, "log_dir", cfg.LogDir)
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config) error {
	statuses, err := lifecycle.NewManager(cfg).Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-14s %-6s %-8s %-9s %-10s %s\n", "PROCESS", "PORT", "PID", "STATE", "LOG SIZE", "LOG FILE")
	for _, st := range statuses {
		port := "-"
		if st.Port != 0 {
			port = fmt.Sprintf("%d", st.Port)
		}
		pid := "-"
		state := "down"
		if st.Listening {
			pid = fmt.Sprintf("%d", st.PID)
			state = "listening"
		} else if st.Port == 0 {
			state = "unknown"
		}
		fmt.Printf("%-14s %-6s %-8s %-9s %-10d %s\n", st.Name, port, pid, state, st.LogSize, st.LogFile)
	}
	return nil
}

func runMaintain(ctx context.Context, cfg *config.Config) error {
	res, err := maintenance.NewRunner(cfg, nil).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cache entries removed: %d (%d bytes)\n", res.CacheRemoved, res.CacheBytesFreed)
	fmt.Printf("tasks purged:          %d\n", res.TasksPurged)
	fmt.Printf("logs rotated:          %d\n", len(res.LogsRotated))
	fmt.Printf("duration:              %s\n", res.Duration.Truncate(time.Millisecond))
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	d, err := daemon.New(CLI.Config, cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	slog.Info("Daemon mode, waiting for shutdown signal")
	return d.Run(ctx)
}

func runInject(ctx context.Context, cfg *config.Config) error {
	inj := mission.NewInjector(cfg.CoordinationServer, retry.DefaultPolicy())
	id, err := inj.Inject(ctx, mission.Mission{
		From:              CLI.Inject.From,
		To:                CLI.Inject.To,
		Type:              CLI.Inject.Type,
		Description:       CLI.Inject.Description,
		Command:           CLI.Inject.Command,
		EstimatedDuration: CLI.Inject.Duration,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
