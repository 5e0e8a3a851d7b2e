package lifecycle

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/ports"
)

// launch starts one fleet process detached from agctl: its own session, no
// controlling terminal, stdout and stderr appended to the per-process log
// file. The child is released immediately; agctl never waits on it.
func (m *Manager) launch(p config.Process) (int, string, error) {
	if err := os.MkdirAll(m.cfg.LogDir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create log directory: %w", err)
	}

	logName := p.LogFile
	if logName == "" {
		logName = p.Name + ".log"
	}
	logPath := filepath.Join(m.cfg.LogDir, logName)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(p.Command, p.Args...)
	cmd.Dir = p.Dir
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("exec %s: %w", p.Command, err)
	}
	pid := cmd.Process.Pid

	// Detach: the child outlives agctl, so no Wait. Release drops the handle
	// without reaping; init adopts the process when it exits.
	if err := cmd.Process.Release(); err != nil {
		return pid, logPath, fmt.Errorf("release process handle: %w", err)
	}
	return pid, logPath, nil
}

// waitReady blocks until the process is considered started. Processes with a
// port are probed until the port accepts connections; the old fixed sleeps
// only guessed at this. Port-less processes fall back to the configured
// startup delay.
func (m *Manager) waitReady(ctx context.Context, p config.Process, pid int, logPath string) error {
	if p.Port == 0 {
		if p.StartDelay <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.StartDelay):
			return nil
		}
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.Port))
	deadline := time.Now().Add(m.cfg.Readiness.ProbeTimeout)
	var dialer net.Dialer

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}

		if !ports.Alive(ctx, int32(pid)) {
			return fmt.Errorf("start %s: process exited before binding port %d, see %s",
				p.Name, p.Port, logPath)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("start %s: port %d not ready after %s, see %s",
				p.Name, p.Port, m.cfg.Readiness.ProbeTimeout, logPath)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.Readiness.ProbeInterval):
		}
	}
}

func statFile(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
