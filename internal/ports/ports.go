// Package ports resolves and terminates the processes owning listening TCP
// sockets. It is the Go counterpart of the deployment's old
// `lsof -ti:PORT | xargs kill -9` sequence, with the difference that
// termination starts polite (SIGTERM) and only escalates to SIGKILL after a
// grace window.
package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrNoListener is returned when nothing is bound to the requested port.
// Callers treat it as "already stopped", not as a failure.
var ErrNoListener = errors.New("no process is listening on port")

// Listener identifies the process owning a listening TCP socket.
type Listener struct {
	Port int
	PID  int32
	Name string
}

// FindListener resolves the process listening on the given local TCP port.
func FindListener(ctx context.Context, port int) (*Listener, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("list tcp connections: %w", err)
	}

	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid == 0 {
			continue
		}
		l := &Listener{Port: port, PID: c.Pid}
		if proc, err := process.NewProcessWithContext(ctx, c.Pid); err == nil {
			if name, err := proc.NameWithContext(ctx); err == nil {
				l.Name = name
			}
		}
		return l, nil
	}
	return nil, fmt.Errorf("port %d: %w", port, ErrNoListener)
}

// Terminate stops the process listening on port. It sends SIGTERM, waits up
// to grace for the process to exit, then escalates to SIGKILL. A grace of
// zero (or less) kills immediately, matching the original scripts.
// The terminated listener is returned for logging; ErrNoListener when the
// port was already free.
func Terminate(ctx context.Context, port int, grace time.Duration) (*Listener, error) {
	l, err := FindListener(ctx, port)
	if err != nil {
		return nil, err
	}

	proc, err := process.NewProcessWithContext(ctx, l.PID)
	if err != nil {
		// Raced with process exit between lookup and handle creation.
		return l, nil
	}

	if grace > 0 {
		if err := proc.TerminateWithContext(ctx); err == nil {
			if waitGone(ctx, proc, grace) {
				return l, nil
			}
		}
	}

	if err := proc.KillWithContext(ctx); err != nil {
		if exists, _ := process.PidExistsWithContext(ctx, l.PID); exists {
			return nil, fmt.Errorf("kill pid %d on port %d: %w", l.PID, port, err)
		}
		return l, nil
	}
	return l, nil
}

// Alive reports whether a process with the given pid exists.
func Alive(ctx context.Context, pid int32) bool {
	exists, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && exists
}

// waitGone polls until the process exits or the grace window elapses.
func waitGone(ctx context.Context, proc *process.Process, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		running, err := proc.IsRunningWithContext(ctx)
		if err != nil || !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
