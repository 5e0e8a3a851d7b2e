package ports

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"
)

func TestFindListenerSelf(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to open test listener: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	l, err := FindListener(t.Context(), port)
	if err != nil {
		t.Fatalf("expected to find own listener on port %d: %v", port, err)
	}
	if l.PID != int32(os.Getpid()) {
		t.Errorf("expected own pid %d, got %d", os.Getpid(), l.PID)
	}
	if l.Port != port {
		t.Errorf("expected port %d, got %d", port, l.Port)
	}
}

func TestFindListenerNone(t *testing.T) {
	// Grab a free port, then release it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to open test listener: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	_, err = FindListener(t.Context(), port)
	if !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

func TestTerminateNoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to open test listener: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	_, err = Terminate(t.Context(), port, 0)
	if !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

// TestHelperListener is not a real test: it is the child process body for the
// Terminate tests, re-executing the test binary. It binds the requested
// address, announces readiness on stdout, and waits to be killed.
func TestHelperListener(t *testing.T) {
	addr := os.Getenv("PORTS_TEST_LISTEN_ADDR")
	if addr == "" {
		t.Skip("helper process body")
	}
	if os.Getenv("PORTS_TEST_IGNORE_TERM") == "1" {
		signal.Ignore(syscall.SIGTERM)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	defer ln.Close()
	fmt.Println("listening")

	time.Sleep(time.Minute)
	os.Exit(0)
}

// startListener re-execs the test binary as a detachable child that listens
// on a fresh port, and returns once the child reports the socket bound.
func startListener(t *testing.T, ignoreTerm bool) (port int, pid int32) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port = ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cmd := exec.Command(os.Args[0], "-test.run=TestHelperListener")
	cmd.Env = append(os.Environ(), "PORTS_TEST_LISTEN_ADDR=127.0.0.1:"+strconv.Itoa(port))
	if ignoreTerm {
		cmd.Env = append(cmd.Env, "PORTS_TEST_IGNORE_TERM=1")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("failed to open stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start helper: %v", err)
	}

	// Reap the child as soon as it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil || line != "listening\n" {
		t.Fatalf("helper did not become ready: %q, %v", line, err)
	}
	return port, int32(cmd.Process.Pid)
}

func waitPortFree(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := FindListener(t.Context(), port); errors.Is(err, ErrNoListener) {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("port %d still has a listener", port)
}

func TestTerminateGraceful(t *testing.T) {
	port, pid := startListener(t, false)

	start := time.Now()
	l, err := Terminate(t.Context(), port, 5*time.Second)
	if err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if l.PID != pid {
		t.Errorf("expected pid %d, got %d", pid, l.PID)
	}
	// SIGTERM alone must do it, well inside the grace window.
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Errorf("graceful termination used the whole grace window: %v", elapsed)
	}
	waitPortFree(t, port)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	port, pid := startListener(t, true)

	l, err := Terminate(t.Context(), port, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if l.PID != pid {
		t.Errorf("expected pid %d, got %d", pid, l.PID)
	}
	waitPortFree(t, port)
}

func TestTerminateZeroGraceKillsImmediately(t *testing.T) {
	port, _ := startListener(t, true)

	if _, err := Terminate(t.Context(), port, 0); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	waitPortFree(t, port)
}
